// Package danmaku decodes chat-overlay segments and collects them into a
// time-ordered, pseudonymized sequence.
package danmaku

import (
	"errors"
	"strconv"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the segment reply and of one entry in it.
const (
	segFieldElems = 1

	elemFieldID       = 1
	elemFieldProgress = 2
	elemFieldMode     = 3
	elemFieldFontSize = 4
	elemFieldColor    = 5
	elemFieldMidHash  = 6
	elemFieldContent  = 7
	elemFieldCtime    = 8
	elemFieldWeight   = 9
	elemFieldAction   = 10
	elemFieldPool     = 11
	elemFieldIDStr    = 12
	elemFieldAttr     = 13
)

// UnknownLabel is used for mode and pool codes outside the lookup tables.
const UnknownLabel = "unknown"

var modeLabels = map[int32]string{
	1: "scroll",
	4: "bottom",
	5: "top",
	6: "reverse",
	7: "advanced",
	8: "code",
	9: "bas",
}

var poolLabels = [3]string{"normal", "subtitle", "special"}

// Attr bit positions.
const (
	attrProtected = 1 << 0
	attrLive      = 1 << 1
	attrHighLike  = 1 << 2
)

// Elem is one entry exactly as carried on the wire.
type Elem struct {
	ID       int64
	IDStr    string
	Progress int32 // milliseconds
	Mode     int32
	FontSize int32
	Color    uint32
	MidHash  string
	Content  string
	Ctime    int64
	Weight   int32
	Action   string
	Pool     int32
	Attr     int32
}

// ModeLabel maps a mode code to its label.
func ModeLabel(mode int32) string {
	if l, ok := modeLabels[mode]; ok {
		return l
	}
	return UnknownLabel
}

// PoolLabel maps a pool index to its label.
func PoolLabel(pool int32) string {
	if pool < 0 || int(pool) >= len(poolLabels) {
		return UnknownLabel
	}
	return poolLabels[pool]
}

// DecodeAttrs splits the attr bitfield.
func DecodeAttrs(attr int32) domain.DanmakuAttrs {
	return domain.DanmakuAttrs{
		Protected: attr&attrProtected != 0,
		Live:      attr&attrLive != 0,
		HighLike:  attr&attrHighLike != 0,
	}
}

// Entry converts the wire element into a domain entry carrying alias as sender.
func (e Elem) Entry(alias string) domain.DanmakuEntry {
	id := e.IDStr
	if id == "" {
		id = strconv.FormatInt(e.ID, 10)
	}
	return domain.DanmakuEntry{
		ID:          id,
		TimeOffset:  float64(e.Progress) / 1000,
		Content:     e.Content,
		TypeLabel:   ModeLabel(e.Mode),
		SenderAlias: alias,
		SendTimeISO: time.Unix(e.Ctime, 0).UTC().Format("2006-01-02T15:04:05.000Z"),
		PoolLabel:   PoolLabel(e.Pool),
		Attrs:       DecodeAttrs(e.Attr),
	}
}

var errWireType = errors.New("unexpected wire type")

// DecodeSegment parses one segment body. An empty body decodes to zero
// entries without error; any structural problem yields a *domain.DecodeError.
func DecodeSegment(b []byte) ([]Elem, error) {
	var elems []Elem
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return elems, &domain.DecodeError{Offset: off, Err: protowire.ParseError(n)}
		}
		off += n
		if num == segFieldElems && typ == protowire.BytesType {
			raw, m := protowire.ConsumeBytes(b[off:])
			if m < 0 {
				return elems, &domain.DecodeError{Offset: off, Err: protowire.ParseError(m)}
			}
			e, err := decodeElem(raw)
			if err != nil {
				var de *domain.DecodeError
				if errors.As(err, &de) {
					de.Offset += off
				}
				return elems, err
			}
			elems = append(elems, e)
			off += m
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b[off:])
		if m < 0 {
			return elems, &domain.DecodeError{Offset: off, Err: protowire.ParseError(m)}
		}
		off += m
	}
	return elems, nil
}

func decodeElem(b []byte) (Elem, error) {
	var e Elem
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return e, &domain.DecodeError{Offset: off, Err: protowire.ParseError(n)}
		}
		off += n

		switch num {
		case elemFieldMidHash, elemFieldContent, elemFieldAction, elemFieldIDStr:
			if typ != protowire.BytesType {
				return e, &domain.DecodeError{Offset: off, Err: errWireType}
			}
			v, m := protowire.ConsumeString(b[off:])
			if m < 0 {
				return e, &domain.DecodeError{Offset: off, Err: protowire.ParseError(m)}
			}
			switch num {
			case elemFieldMidHash:
				e.MidHash = v
			case elemFieldContent:
				e.Content = v
			case elemFieldAction:
				e.Action = v
			case elemFieldIDStr:
				e.IDStr = v
			}
			off += m
		case elemFieldID, elemFieldProgress, elemFieldMode, elemFieldFontSize, elemFieldColor,
			elemFieldCtime, elemFieldWeight, elemFieldPool, elemFieldAttr:
			if typ != protowire.VarintType {
				return e, &domain.DecodeError{Offset: off, Err: errWireType}
			}
			v, m := protowire.ConsumeVarint(b[off:])
			if m < 0 {
				return e, &domain.DecodeError{Offset: off, Err: protowire.ParseError(m)}
			}
			switch num {
			case elemFieldID:
				e.ID = int64(v)
			case elemFieldProgress:
				e.Progress = int32(v)
			case elemFieldMode:
				e.Mode = int32(v)
			case elemFieldFontSize:
				e.FontSize = int32(v)
			case elemFieldColor:
				e.Color = uint32(v)
			case elemFieldCtime:
				e.Ctime = int64(v)
			case elemFieldWeight:
				e.Weight = int32(v)
			case elemFieldPool:
				e.Pool = int32(v)
			case elemFieldAttr:
				e.Attr = int32(v)
			}
			off += m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b[off:])
			if m < 0 {
				return e, &domain.DecodeError{Offset: off, Err: protowire.ParseError(m)}
			}
			off += m
		}
	}
	return e, nil
}

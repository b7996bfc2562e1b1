package interaction

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Version is the batch protocol version token.
const Version = "bel.7"

// Node type markers in the encoded record.
const (
	nodeInteraction = "1"
	nodeAjax        = "2"
	nodeAttribute   = "5"
)

// Attribute value type codes.
const (
	attrNull   = "0"
	attrString = "1"
	attrNumber = "2"
	attrTrue   = "3"
	attrFalse  = "4"
)

// headerFields is the number of fields in an interaction record header.
const headerFields = 13

// EncodeOptions controls record encoding.
type EncodeOptions struct {
	// ServerTime converts an origin-relative time to a server-corrected
	// timestamp. When nil or when it reports false, the field is left empty.
	ServerTime func(relative int64) (int64, bool)
}

// EncodeBatch encodes interactions into a single versioned payload:
//
//	bel.7;<record>;<record>...
func EncodeBatch(ixns []*Interaction, opts EncodeOptions) string {
	var b strings.Builder
	b.WriteString(Version)
	for _, ixn := range ixns {
		b.WriteByte(';')
		b.WriteString(ixn.Encode(opts))
	}
	return b.String()
}

// Encode serializes the interaction into one record. Fields are comma
// separated: integers in base 36, strings prefixed with ' and escaped.
//
//	1,<nodes>,<start>,<duration>,'trigger,'oldURL,'newURL,'oldRoute,'newRoute,'name,'category,'id,<serverStart>
//
// followed by attribute nodes (sorted by key) and child nodes.
func (ixn *Interaction) Encode(opts EncodeOptions) string {
	keys := make([]string, 0, len(ixn.CustomAttributes))
	for k := range ixn.CustomAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	serverStart := ""
	if opts.ServerTime != nil {
		if ts, ok := opts.ServerTime(ixn.Start); ok {
			serverStart = numeric(ts)
		}
	}

	fields := []string{
		nodeInteraction,
		numeric(int64(len(keys) + len(ixn.children))),
		numeric(ixn.Start),
		numeric(ixn.End - ixn.Start),
		quote(ixn.Trigger),
		quote(ixn.OldURL),
		quote(ixn.NewURL),
		quote(ixn.OldRoute),
		quote(ixn.NewRoute),
		quote(ixn.CustomName),
		quote(ixn.Category()),
		quote(ixn.ID),
		serverStart,
	}

	for _, k := range keys {
		fields = append(fields, encodeAttribute(k, ixn.CustomAttributes[k])...)
	}
	for _, child := range ixn.children {
		fields = append(fields, child.encode(ixn.Start)...)
	}

	return strings.Join(fields, ",")
}

func (n *AjaxNode) encode(parentStart int64) []string {
	ev := n.Event
	callback := ""
	if ev.CallbackEnd != 0 {
		callback = numeric(ev.CallbackEnd - ev.StartTime)
	}
	return []string{
		nodeAjax,
		"0",
		numeric(ev.StartTime - parentStart),
		numeric(ev.EndTime - ev.StartTime),
		callback,
		quote(ev.Method),
		numeric(int64(ev.Status)),
		quote(ev.Domain),
		quote(ev.Path),
		numeric(ev.TxSize),
		numeric(ev.RxSize),
		quote(ev.Type),
		quote(ev.TraceID),
	}
}

func encodeAttribute(key string, value any) []string {
	typ, val := attrNull, ""
	switch v := value.(type) {
	case nil:
	case string:
		typ, val = attrString, quote(v)
	case bool:
		if v {
			typ = attrTrue
		} else {
			typ = attrFalse
		}
	case int:
		typ, val = attrNumber, strconv.Itoa(v)
	case int64:
		typ, val = attrNumber, strconv.FormatInt(v, 10)
	case float64:
		typ, val = attrNumber, strconv.FormatFloat(v, 'f', -1, 64)
	default:
		typ, val = attrString, quote(fmt.Sprint(v))
	}
	return []string{nodeAttribute, typ, quote(key), val}
}

func numeric(n int64) string {
	return strconv.FormatInt(n, 36)
}

// quote NFC-normalizes and escapes s. Empty strings encode as an empty field.
func quote(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s) + 1)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\', ',', ';':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SplitBatch splits a payload into its version token and records.
func SplitBatch(payload string) (version string, records []string, err error) {
	parts := splitEscaped(payload, ';')
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "bel.") {
		return "", nil, fmt.Errorf("split batch: missing version token")
	}
	return parts[0], parts[1:], nil
}

// RecordHeader is the decoded header of one interaction record.
type RecordHeader struct {
	Nodes      int64
	Start      int64
	Duration   int64
	Trigger    string
	OldURL     string
	NewURL     string
	OldRoute   string
	NewRoute   string
	CustomName string
	Category   string
	ID         string
	// ServerStart is 0 when the agent was not synchronized.
	ServerStart int64
}

// ParseRecordHeader decodes the header fields of an encoded interaction record.
func ParseRecordHeader(record string) (RecordHeader, error) {
	fields := splitEscaped(record, ',')
	if len(fields) < headerFields || fields[0] != nodeInteraction {
		return RecordHeader{}, fmt.Errorf("parse record: not an interaction record")
	}

	var h RecordHeader
	var err error
	ints := []struct {
		dst   *int64
		field string
	}{
		{&h.Nodes, fields[1]},
		{&h.Start, fields[2]},
		{&h.Duration, fields[3]},
		{&h.ServerStart, fields[12]},
	}
	for _, in := range ints {
		if in.field == "" {
			continue
		}
		if *in.dst, err = strconv.ParseInt(in.field, 36, 64); err != nil {
			return RecordHeader{}, fmt.Errorf("parse record: %w", err)
		}
	}

	h.Trigger = unquote(fields[4])
	h.OldURL = unquote(fields[5])
	h.NewURL = unquote(fields[6])
	h.OldRoute = unquote(fields[7])
	h.NewRoute = unquote(fields[8])
	h.CustomName = unquote(fields[9])
	h.Category = unquote(fields[10])
	h.ID = unquote(fields[11])
	return h, nil
}

// splitEscaped splits s on sep, honouring backslash escapes. Escapes are
// preserved in the returned parts.
func splitEscaped(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(field string) string {
	field = strings.TrimPrefix(field, "'")
	if !strings.Contains(field, `\`) {
		return field
	}
	var b strings.Builder
	for i := 0; i < len(field); i++ {
		if field[i] == '\\' && i+1 < len(field) {
			i++
		}
		b.WriteByte(field[i])
	}
	return b.String()
}

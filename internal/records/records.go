// Package records decodes the delimited-text payload the Slack MCP tool
// returns from conversations_history calls.
//
// The payload is not strict RFC 4180: fields are optionally double-quoted
// with exactly one level of quoting and no embedded escaped quotes, so
// encoding/csv (which insists on `""` escaping and bare-quote errors) would
// reject real payloads. The decoder is hand-rolled to match the producer.
package records

import "strings"

// Record is one message row from a channel history payload. All fields are
// raw strings as produced by the tool; Timestamp is an epoch-seconds string
// like "1700000000.123456".
type Record struct {
	UserID    string
	UserName  string
	RealName  string
	Channel   string
	ThreadTS  string
	Text      string
	Timestamp string
	Cursor    string
}

// minFields is the number of columns a line must yield to count as a record.
// Cursor (column 8) is optional.
const minFields = 7

// Decode parses one multi-line payload into records. The first line is a
// column header and is discarded; any later line whose first field repeats
// the header's first column name is treated as a duplicate header and
// discarded, as is any line with fewer than minFields fields. Decode never
// fails: malformed lines are simply skipped.
func Decode(text string) []Record {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return nil
	}

	header := splitFields(strings.TrimSuffix(lines[0], "\r"))
	var headerCol string
	if len(header) > 0 {
		headerCol = header[0]
	}

	var out []Record
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		fields := splitFields(line)
		if len(fields) < minFields {
			continue
		}
		if headerCol != "" && fields[0] == headerCol {
			continue
		}
		rec := Record{
			UserID:    fields[0],
			UserName:  fields[1],
			RealName:  fields[2],
			Channel:   fields[3],
			ThreadTS:  fields[4],
			Text:      fields[5],
			Timestamp: fields[6],
		}
		if len(fields) > 7 {
			rec.Cursor = fields[7]
		}
		out = append(out, rec)
	}
	return out
}

// splitFields splits one line on commas, honoring single-level quoting: a
// field is quoted only when its first character is a double quote, and the
// quote closes only at a double quote immediately followed by a comma or
// end of line. Commas inside quotes are literal.
func splitFields(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	fieldStart := true

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case fieldStart && ch == '"':
			inQuotes = true
			fieldStart = false
		case inQuotes && ch == '"' && (i+1 == len(line) || line[i+1] == ','):
			inQuotes = false
		case ch == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
			fieldStart = true
		default:
			cur.WriteByte(ch)
			fieldStart = false
		}
	}
	fields = append(fields, cur.String())
	return fields
}

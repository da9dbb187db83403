package extract

import (
	"bufio"
	"bytes"
	"sort"
	"strings"
	"unicode/utf16"
)

// toUnicodeMap maps character codes (as raw byte strings) to their Unicode
// expansion, with the code lengths the codespace declares.
type toUnicodeMap struct {
	entries map[string]string
	lengths []int // descending
}

// decode converts raw string bytes to text, consuming the longest declared
// code length that has a mapping at each position.
func (m *toUnicodeMap) decode(data []byte) string {
	if len(m.entries) == 0 {
		return string(data)
	}
	lengths := m.lengths
	if len(lengths) == 0 {
		lengths = []int{2, 1}
	}
	var out strings.Builder
	for i := 0; i < len(data); {
		matched := false
		for _, n := range lengths {
			if i+n > len(data) {
				continue
			}
			if s, ok := m.entries[string(data[i:i+n])]; ok {
				out.WriteString(s)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			// skip one code of the shortest declared width
			n := lengths[len(lengths)-1]
			if i+n > len(data) {
				n = len(data) - i
			}
			i += n
		}
	}
	return out.String()
}

// parseToUnicodeCMap reads the bfchar/bfrange sections of a /ToUnicode CMap
// stream. The parser is line oriented and tolerant: anything it does not
// recognize is skipped.
func parseToUnicodeCMap(data []byte) *toUnicodeMap {
	result := &toUnicodeMap{entries: make(map[string]string)}
	lengthSet := make(map[int]struct{})
	state := ""

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		switch {
		case strings.HasSuffix(line, "begincodespacerange"):
			state = "codespace"
			continue
		case strings.HasSuffix(line, "endcodespacerange"):
			state = ""
			continue
		case strings.HasSuffix(line, "beginbfchar"):
			state = "bfchar"
			continue
		case strings.HasSuffix(line, "endbfchar"):
			state = ""
			continue
		case strings.HasSuffix(line, "beginbfrange"):
			state = "bfrange"
			continue
		case strings.HasSuffix(line, "endbfrange"):
			state = ""
			continue
		}
		switch state {
		case "codespace":
			if hexes := hexTokens(line); len(hexes) >= 1 {
				lengthSet[len(hexes[0])] = struct{}{}
			}
		case "bfchar":
			hexes := hexTokens(line)
			if len(hexes) >= 2 {
				code := string(hexes[0])
				result.entries[code] = utf16BEToString(hexes[1])
				lengthSet[len(hexes[0])] = struct{}{}
			}
		case "bfrange":
			parseBfrangeLine(line, result, lengthSet)
		}
	}

	for n := range lengthSet {
		if n > 0 {
			result.lengths = append(result.lengths, n)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(result.lengths)))
	if len(result.entries) == 0 {
		return nil
	}
	return result
}

// parseBfrangeLine handles both range forms:
//
//	<lo> <hi> <dst>            sequential mapping from dst
//	<lo> <hi> [<d0> <d1> ...]  explicit per-code targets
func parseBfrangeLine(line string, result *toUnicodeMap, lengthSet map[int]struct{}) {
	if i := strings.IndexByte(line, '['); i >= 0 {
		headHexes := hexTokens(line[:i])
		if len(headHexes) < 2 {
			return
		}
		lo, hi := headHexes[0], headHexes[1]
		targets := hexTokens(line[i:])
		loVal := beValue(lo)
		hiVal := beValue(hi)
		for k := 0; loVal+uint64(k) <= hiVal && k < len(targets); k++ {
			code := beBytes(loVal+uint64(k), len(lo))
			result.entries[string(code)] = utf16BEToString(targets[k])
		}
		lengthSet[len(lo)] = struct{}{}
		return
	}
	hexes := hexTokens(line)
	if len(hexes) < 3 {
		return
	}
	lo, hi, dst := hexes[0], hexes[1], hexes[2]
	loVal, hiVal := beValue(lo), beValue(hi)
	if hiVal < loVal || hiVal-loVal > 65535 {
		return
	}
	dstVal := beValue(dst)
	for k := uint64(0); loVal+k <= hiVal; k++ {
		code := beBytes(loVal+k, len(lo))
		result.entries[string(code)] = utf16BEToString(beBytes(dstVal+k, len(dst)))
	}
	lengthSet[len(lo)] = struct{}{}
}

// hexTokens extracts the byte contents of every <...> hex run on a line.
func hexTokens(line string) [][]byte {
	var out [][]byte
	for {
		start := strings.IndexByte(line, '<')
		if start < 0 {
			return out
		}
		end := strings.IndexByte(line[start:], '>')
		if end < 0 {
			return out
		}
		body := line[start+1 : start+end]
		line = line[start+end+1:]
		var buf []byte
		var hi byte
		half := false
		for i := 0; i < len(body); i++ {
			c := body[i]
			var v byte
			switch {
			case c >= '0' && c <= '9':
				v = c - '0'
			case c >= 'a' && c <= 'f':
				v = c - 'a' + 10
			case c >= 'A' && c <= 'F':
				v = c - 'A' + 10
			default:
				continue
			}
			if !half {
				hi = v
				half = true
			} else {
				buf = append(buf, hi<<4|v)
				half = false
			}
		}
		if half {
			buf = append(buf, hi<<4)
		}
		out = append(out, buf)
	}
}

func beValue(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beBytes(v uint64, width int) []byte {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// utf16BEToString interprets raw bytes as UTF-16BE code units.
func utf16BEToString(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	if len(b) == 0 {
		return ""
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(u16))
}

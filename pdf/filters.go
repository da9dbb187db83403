package pdf

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	"encoding/ascii85"
	"errors"
	"fmt"
	"io"

	tifflzw "golang.org/x/image/tiff/lzw"
)

// ErrUnsupportedFilter marks filters the pipeline cannot decode (images,
// crypt). Callers usually keep the raw bytes in that case.
var ErrUnsupportedFilter = errors.New("pdf: unsupported stream filter")

// Pipeline applies a stream's /Filter chain in declaration order.
type Pipeline struct {
	Limits Limits
}

// NewPipeline returns a pipeline with the given limits (zero for defaults).
func NewPipeline(lim Limits) Pipeline {
	return Pipeline{Limits: lim.withDefaults()}
}

// DecodeStream decodes st's data through its full filter chain. Filter and
// DecodeParms entries must already be direct objects (the loader resolves
// refs in stream dicts it hands out).
func (p Pipeline) DecodeStream(ctx context.Context, st *Stream) ([]byte, error) {
	names, parms := filterChain(st.Dict)
	return p.Decode(ctx, st.Raw, names, parms)
}

// Decode runs data through the named filters. Image and crypt filters stop
// the chain, returning the bytes decoded so far together with
// ErrUnsupportedFilter.
func (p Pipeline) Decode(ctx context.Context, data []byte, names []Name, parms []*Dict) ([]byte, error) {
	max := p.Limits.MaxDecompressedSize
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var parm *Dict
		switch {
		case i < len(parms):
			parm = parms[i]
		case len(parms) == 1:
			parm = parms[0]
		}
		var err error
		switch name {
		case "FlateDecode", "Fl":
			data, err = flateDecode(data, max)
			if err == nil {
				data, err = applyPredictor(data, parm)
			}
		case "LZWDecode", "LZW":
			early := int64(1)
			if parm != nil {
				if v, ok := parm.Int("EarlyChange"); ok {
					early = v
				}
			}
			data, err = lzwDecode(data, early, max)
			if err == nil {
				data, err = applyPredictor(data, parm)
			}
		case "RunLengthDecode", "RL":
			data, err = runLengthDecode(data, max)
		case "ASCII85Decode", "A85":
			data, err = ascii85Decode(data, max)
		case "ASCIIHexDecode", "AHx":
			data, err = asciiHexDecode(data)
		case "DCTDecode", "DCT", "JPXDecode", "CCITTFaxDecode", "CCF", "JBIG2Decode", "Crypt":
			return data, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		default:
			return data, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		}
		if err != nil {
			return nil, fmt.Errorf("pdf: %s: %w", name, err)
		}
	}
	return data, nil
}

// filterChain reads /Filter (or /F) and /DecodeParms (or /DP) into parallel
// slices. Null parms entries become nil.
func filterChain(d *Dict) ([]Name, []*Dict) {
	fv, ok := d.Get("Filter")
	if !ok {
		fv, ok = d.Get("F")
		// /F is also the file specification key; only treat it as a filter
		// when it holds a name or array
		if ok {
			switch fv.(type) {
			case Name, *Array:
			default:
				ok = false
			}
		}
	}
	if !ok {
		return nil, nil
	}
	var names []Name
	switch v := fv.(type) {
	case Name:
		names = []Name{v}
	case *Array:
		for _, it := range v.Items {
			if n, isName := it.(Name); isName {
				names = append(names, n)
			}
		}
	}
	pv, ok := d.Get("DecodeParms")
	if !ok {
		pv, ok = d.Get("DP")
	}
	var parms []*Dict
	if ok {
		switch v := pv.(type) {
		case *Dict:
			parms = []*Dict{v}
		case *Array:
			for _, it := range v.Items {
				if pd, isDict := it.(*Dict); isDict {
					parms = append(parms, pd)
				} else {
					parms = append(parms, nil)
				}
			}
		}
	}
	return names, parms
}

// flateDecode inflates zlib data, falling back to a raw deflate stream when
// the zlib header is absent (writers disagree on this). Truncated input is
// salvaged: whatever inflated cleanly is returned.
func flateDecode(data []byte, max int64) ([]byte, error) {
	var r io.ReadCloser
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		r = zr
	} else {
		r = flate.NewReader(bytes.NewReader(data))
	}
	defer r.Close()
	out, err := readCapped(r, max)
	if err != nil {
		if len(out) > 0 && salvageable(err) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

func salvageable(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ce flate.CorruptInputError
	return errors.As(err, &ce)
}

func lzwDecode(data []byte, earlyChange int64, max int64) ([]byte, error) {
	var r io.ReadCloser
	if earlyChange == 0 {
		r = lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
	} else {
		// PDF's default EarlyChange=1 matches the TIFF variant
		r = tifflzw.NewReader(bytes.NewReader(data), tifflzw.MSB, 8)
	}
	defer r.Close()
	out, err := readCapped(r, max)
	if err != nil {
		if len(out) > 0 && salvageable(err) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

func runLengthDecode(data []byte, max int64) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			end := i + n + 1
			if end > len(data) {
				return nil, errors.New("run exceeds input")
			}
			out.Write(data[i:end])
			i = end
		default:
			if i >= len(data) {
				return nil, errors.New("repeat run missing byte")
			}
			out.Write(bytes.Repeat(data[i:i+1], 257-n))
			i++
		}
		if max > 0 && int64(out.Len()) > max {
			return nil, errors.New("decoded data exceeds limit")
		}
	}
	return out.Bytes(), nil
}

func ascii85Decode(data []byte, max int64) ([]byte, error) {
	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("<~"))
	if i := bytes.Index(data, []byte("~>")); i >= 0 {
		data = data[:i]
	}
	out := make([]byte, len(data)/5*4+8)
	n, _, err := ascii85.Decode(out, data, true)
	if err != nil {
		return nil, err
	}
	if max > 0 && int64(n) > max {
		return nil, errors.New("decoded data exceeds limit")
	}
	return out[:n], nil
}

func asciiHexDecode(data []byte) ([]byte, error) {
	var nibbles []byte
	for _, c := range data {
		if c == '>' {
			break
		}
		if isWhite(c) {
			continue
		}
		if !isHexDigit(c) {
			return nil, fmt.Errorf("invalid hex digit %q", c)
		}
		nibbles = append(nibbles, c)
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = hexVal(nibbles[2*i])<<4 | hexVal(nibbles[2*i+1])
	}
	return out, nil
}

func readCapped(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return out, err
	}
	if int64(len(out)) > max {
		return nil, errors.New("decoded data exceeds limit")
	}
	return out, nil
}

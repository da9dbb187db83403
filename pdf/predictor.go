package pdf

import (
	"errors"
	"fmt"
)

// applyPredictor undoes the PNG (10-15) or TIFF (2) predictor declared in a
// filter's DecodeParms. Predictor 1 or a nil parm dict is a no-op.
func applyPredictor(data []byte, parm *Dict) ([]byte, error) {
	if parm == nil {
		return data, nil
	}
	pred, _ := parm.Int("Predictor")
	if pred <= 1 {
		return data, nil
	}
	colors := int64(1)
	if v, ok := parm.Int("Colors"); ok && v > 0 {
		colors = v
	}
	bpc := int64(8)
	if v, ok := parm.Int("BitsPerComponent"); ok && v > 0 {
		bpc = v
	}
	columns := int64(1)
	if v, ok := parm.Int("Columns"); ok && v > 0 {
		columns = v
	}
	switch {
	case pred == 2:
		return tiffPredict(data, colors, bpc, columns)
	case pred >= 10 && pred <= 15:
		return pngPredict(data, colors, bpc, columns)
	default:
		return nil, fmt.Errorf("pdf: predictor %d not supported", pred)
	}
}

func pngPredict(data []byte, colors, bpc, columns int64) ([]byte, error) {
	bpp := int((colors*bpc + 7) / 8)
	if bpp < 1 {
		bpp = 1
	}
	rowBytes := int((colors*bpc*columns + 7) / 8)
	stride := rowBytes + 1 // leading per-row filter byte
	if rowBytes == 0 || len(data)%stride != 0 {
		return nil, errors.New("pdf: predictor row size mismatch")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowBytes)
	prior := make([]byte, rowBytes)
	cur := make([]byte, rowBytes)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(cur, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowBytes; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowBytes; i++ {
				cur[i] += prior[i]
			}
		case 3: // Average
			for i := 0; i < rowBytes; i++ {
				var left int
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prior[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowBytes; i++ {
				var left, upLeft int
				up := int(prior[i])
				if i >= bpp {
					left = int(cur[i-bpp])
					upLeft = int(prior[i-bpp])
				}
				cur[i] += byte(paeth(left, up, upLeft))
			}
		default:
			return nil, fmt.Errorf("pdf: png filter type %d", ft)
		}
		out = append(out, cur...)
		prior, cur = cur, prior
	}
	return out, nil
}

func paeth(a, b, c int) int {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tiffPredict(data []byte, colors, bpc, columns int64) ([]byte, error) {
	if bpc != 8 {
		return nil, fmt.Errorf("pdf: tiff predictor with %d bits per component not supported", bpc)
	}
	rowBytes := int(colors * columns)
	if rowBytes == 0 || len(data)%rowBytes != 0 {
		return nil, errors.New("pdf: predictor row size mismatch")
	}
	out := append([]byte(nil), data...)
	nc := int(colors)
	for r := 0; r < len(out); r += rowBytes {
		row := out[r : r+rowBytes]
		for i := nc; i < rowBytes; i++ {
			row[i] += row[i-nc]
		}
	}
	return out, nil
}

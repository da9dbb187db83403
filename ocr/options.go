package ocr

import "strconv"

// InputOption mutates an OCR input before submission.
type InputOption func(*Input)

// WithLanguages sets trained-data language hints on the OCR input.
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithDPI overrides the DPI value on the OCR input.
func WithDPI(dpi int) InputOption {
	return func(in *Input) { in.DPI = dpi }
}

// WithPSM sets the page segmentation mode variable for Tesseract.
func WithPSM(mode int) InputOption {
	return setVariable("tessedit_pageseg_mode", strconv.Itoa(mode))
}

// WithWhitelist restricts recognition to the provided characters.
func WithWhitelist(chars string) InputOption {
	return setVariable("tessedit_char_whitelist", chars)
}

func setVariable(key, value string) InputOption {
	return func(in *Input) {
		if in.Variables == nil {
			in.Variables = make(map[string]string)
		}
		in.Variables[key] = value
	}
}

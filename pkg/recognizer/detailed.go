package recognizer

import (
	"fmt"

	"github.com/goccy/go-json"
)

// detailedResult is the detailed output format of the speech service.
type detailedResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	NBest             []struct {
		Confidence float64 `json:"Confidence"`
		Lexical    string  `json:"Lexical"`
		ITN        string  `json:"ITN"`
		MaskedITN  string  `json:"MaskedITN"`
		Display    string  `json:"Display"`
	} `json:"NBest"`
	PrimaryLanguage *struct {
		Language string `json:"Language"`
	} `json:"PrimaryLanguage"`
}

// ParseDetailed reads the best alternative out of a detailed JSON result.
// fallbackText is used when the payload carries no alternatives.
func ParseDetailed(payload, fallbackText string) (Utterance, error) {
	u := Utterance{Lexical: fallbackText, Display: fallbackText, ITN: fallbackText}
	if payload == "" {
		return u, fmt.Errorf("empty detailed result")
	}

	var d detailedResult
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return u, err
	}
	if d.PrimaryLanguage != nil {
		u.Language = d.PrimaryLanguage.Language
	}
	if len(d.NBest) == 0 {
		if d.DisplayText != "" {
			u.Display = d.DisplayText
		}
		return u, nil
	}

	best := d.NBest[0]
	u.Lexical = best.Lexical
	u.Display = best.Display
	u.ITN = best.ITN
	u.Confidence = best.Confidence
	return u, nil
}

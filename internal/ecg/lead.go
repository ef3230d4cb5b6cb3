// Package ecg provides ECG lead definitions and the canonical printout layout registry.
package ecg

import (
	"fmt"
	"strings"
)

// Lead identifies one of the 12 standard ECG channels, plus the optional
// rhythm strip channel printed below the panel grid.
type Lead int

const (
	LeadI Lead = iota
	LeadII
	LeadIII
	LeadAVR
	LeadAVL
	LeadAVF
	LeadV1
	LeadV2
	LeadV3
	LeadV4
	LeadV5
	LeadV6
	LeadRhythm
)

// NumStandardLeads is the number of standard (non-rhythm) leads.
const NumStandardLeads = 12

func (l Lead) String() string {
	switch l {
	case LeadI:
		return "I"
	case LeadII:
		return "II"
	case LeadIII:
		return "III"
	case LeadAVR:
		return "aVR"
	case LeadAVL:
		return "aVL"
	case LeadAVF:
		return "aVF"
	case LeadV1:
		return "V1"
	case LeadV2:
		return "V2"
	case LeadV3:
		return "V3"
	case LeadV4:
		return "V4"
	case LeadV5:
		return "V5"
	case LeadV6:
		return "V6"
	case LeadRhythm:
		return "rhythm"
	default:
		return "unknown"
	}
}

// ParseLead returns the lead matching the given printed label. Labels match
// case-insensitively.
func ParseLead(s string) (Lead, error) {
	for l := LeadI; l <= LeadRhythm; l++ {
		if strings.EqualFold(l.String(), s) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown lead label %q", s)
}

// StandardOrder is the canonical panel order of the 12 leads.
var StandardOrder = []Lead{
	LeadI, LeadII, LeadIII,
	LeadAVR, LeadAVL, LeadAVF,
	LeadV1, LeadV2, LeadV3,
	LeadV4, LeadV5, LeadV6,
}

// CabreraOrder is the Cabrera presentation order. The precordial leads are
// unchanged; the limb leads are reordered and aVR is printed inverted (-aVR).
var CabreraOrder = []Lead{
	LeadAVL, LeadI, LeadAVR,
	LeadII, LeadAVF, LeadIII,
	LeadV1, LeadV2, LeadV3,
	LeadV4, LeadV5, LeadV6,
}

// CanonicalIndex returns the position of a lead in aggregated output order:
// I, II, III, aVR, aVL, aVF, V1-V6, rhythm last.
func CanonicalIndex(l Lead) int {
	return int(l)
}

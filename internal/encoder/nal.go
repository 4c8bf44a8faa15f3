package encoder

// H.264 NAL unit types, ITU-T H.264 Table 7-1.
const (
	nalTypeIDR = 5
	nalTypeSPS = 7
	nalTypePPS = 8
)

// nalTypes returns the unit type of every NAL unit in an Annex-B access unit.
func nalTypes(au []byte) []byte {
	var types []byte
	n := len(au)
	for i := 0; i+2 < n; {
		if au[i] != 0 || au[i+1] != 0 {
			i++
			continue
		}
		start := -1
		switch {
		case au[i+2] == 1:
			start = i + 3
		case i+3 < n && au[i+2] == 0 && au[i+3] == 1:
			start = i + 4
		}
		if start < 0 {
			i++
			continue
		}
		if start < n {
			types = append(types, au[start]&0x1f)
		}
		i = start
	}
	return types
}

// IsKeyFrame reports whether an Annex-B access unit holds an IDR slice.
func IsKeyFrame(au []byte) bool {
	for _, t := range nalTypes(au) {
		if t == nalTypeIDR {
			return true
		}
	}
	return false
}

// HasParameterSets reports whether an access unit carries both SPS and PPS,
// which a decoder joining mid-stream needs before the next IDR.
func HasParameterSets(au []byte) bool {
	var sps, pps bool
	for _, t := range nalTypes(au) {
		switch t {
		case nalTypeSPS:
			sps = true
		case nalTypePPS:
			pps = true
		}
	}
	return sps && pps
}

// Package codes holds the syntactic checks for barcodes, RFID tags and shelf locations.
package codes

import (
	"fmt"
	"regexp"
	"strconv"
)

const RFIDLength = 12

var locationPattern = regexp.MustCompile(`^[1-9][0-9]*-[a-zA-Z]+-[1-9][0-9]*$`)

// ValidBarcode checks a GTIN-12/13/14 code including its check digit.
func ValidBarcode(code string) bool {
	if len(code) < 12 || len(code) > 14 || !allDigits(code) {
		return false
	}

	sum := 0
	weight := 1
	if len(code)%2 == 0 {
		weight = 3
	}
	for i := 0; i < len(code)-1; i++ {
		sum += int(code[i]-'0') * weight
		weight ^= 2
	}
	check := (10 - sum%10) % 10
	return int(code[len(code)-1]-'0') == check
}

func ValidRFID(rfid string) bool {
	return len(rfid) == RFIDLength && allDigits(rfid)
}

// ValidLocation accepts <aisle>-<rack>-<level>, for example 3-b-12.
func ValidLocation(location string) bool {
	return locationPattern.MatchString(location)
}

// RFIDSequence returns n consecutive tags starting at from.
func RFIDSequence(from string, n int) ([]string, error) {
	if !ValidRFID(from) {
		return nil, fmt.Errorf("invalid rfid %q", from)
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tag := fmt.Sprintf("%0*d", RFIDLength, start+int64(i))
		if len(tag) != RFIDLength {
			return nil, fmt.Errorf("rfid sequence from %s overflows after %d tags", from, i)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

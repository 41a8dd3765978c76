package classifier

import (
	"log"
	"regexp"
	"strings"

	"github.com/vipul43/invoice-intake/internal/models"
)

// CalculatePatternScore scores one pattern against an invoice.
// The raw score (vendor 0.6, amount 0.2 or 0.1, keywords up to 0.2) is weighted by the
// pattern's success rate. The result depends only on the inputs.
func CalculatePatternScore(pattern models.ClassificationPattern, vendorName string, amount *float64, text string) float64 {
	score := 0.0

	// Vendor match (case-insensitive)
	if pattern.VendorRegex != "" {
		re, err := regexp.Compile("(?i)" + pattern.VendorRegex)
		if err != nil {
			log.Printf("Warning: invalid vendor regex on pattern %s: %v", pattern.ID, err)
		} else if re.MatchString(vendorName) {
			score += 0.6
		}
	}

	// Amount range
	if amount != nil {
		switch {
		case pattern.AmountMin != nil && pattern.AmountMax != nil:
			if *amount >= *pattern.AmountMin && *amount <= *pattern.AmountMax {
				score += 0.2
			}
		case pattern.AmountMin != nil:
			if *amount >= *pattern.AmountMin {
				score += 0.1
			}
		case pattern.AmountMax != nil:
			if *amount <= *pattern.AmountMax {
				score += 0.1
			}
		}
	}

	// Keywords
	if len(pattern.TextContains) > 0 {
		lowered := strings.ToLower(text)
		found := 0
		for _, keyword := range pattern.TextContains {
			if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
				found++
			}
		}
		score += 0.2 * float64(found) / float64(len(pattern.TextContains))
	}

	return score * pattern.SuccessRate
}

// PatternConfidence turns a (success-rate weighted) score into a confidence
func PatternConfidence(score, successRate float64) float64 {
	return clamp(score * successRate)
}

// BestPattern returns the highest scoring pattern with a score above zero.
// Ties keep the earliest pattern in list order. Returns nil when nothing scores.
func BestPattern(patterns []models.ClassificationPattern, vendorName string, amount *float64, text string) (*models.ClassificationPattern, float64) {
	var best *models.ClassificationPattern
	bestScore := 0.0

	for i := range patterns {
		score := CalculatePatternScore(patterns[i], vendorName, amount, text)
		if score > bestScore {
			best = &patterns[i]
			bestScore = score
		}
	}

	return best, bestScore
}

// MatchesVendor reports whether the pattern's vendor regex matches the name
func MatchesVendor(pattern models.ClassificationPattern, vendorName string) bool {
	re, err := regexp.Compile("(?i)" + pattern.VendorRegex)
	if err != nil {
		return false
	}
	return re.MatchString(vendorName)
}

func clamp(confidence float64) float64 {
	if confidence > MaxConfidence {
		return MaxConfidence
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

package policy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/noah-isme/astra-go-api/internal/models"
)

var oldOrdinalPattern = regexp.MustCompile(`^(\d+\.)|^([IVXCML]+ )`)

// CheckCourseLanguage returns preferred when the course offers it, otherwise the first course language.
// Without a course configuration the preferred language is used as is.
func CheckCourseLanguage(cfg *models.CourseConfig, preferred string) string {
	if cfg == nil {
		return preferred
	}
	languages := cfg.LanguageList()
	if len(languages) == 0 {
		return preferred
	}
	for _, lang := range languages {
		if lang == preferred {
			return preferred
		}
	}
	return languages[0]
}

// UpdateNameWithOrder replaces a leading ordinal in name with one formatted in the given numbering style.
func UpdateNameWithOrder(name string, order int, style string) string {
	stripped := strings.TrimSpace(oldOrdinalPattern.ReplaceAllString(name, ""))
	switch style {
	case models.NumberingArabic:
		return fmt.Sprintf("%d. %s", order, stripped)
	case models.NumberingRoman:
		return RomanNumeral(order) + " " + stripped
	default:
		return stripped
	}
}

// RomanNumeral formats n (1..3999) as an upper case roman numeral.
func RomanNumeral(n int) string {
	values := []int{1000, 900, 500, 400, 100, 90, 50, 40, 10, 9, 5, 4, 1}
	symbols := []string{"M", "CM", "D", "CD", "C", "XC", "L", "XL", "X", "IX", "V", "IV", "I"}

	var b strings.Builder
	for i, value := range values {
		for n >= value {
			b.WriteString(symbols[i])
			n -= value
		}
	}
	return b.String()
}

// SortLearningObjects orders objects of one round depth-first: siblings by ordinal, children right after their parent.
func SortLearningObjects(objects []models.LearningObject) []models.LearningObject {
	children := make(map[uint][]models.LearningObject)
	ids := make(map[uint]struct{}, len(objects))
	for _, obj := range objects {
		ids[obj.ID] = struct{}{}
	}
	var roots []models.LearningObject
	for _, obj := range objects {
		if obj.ParentID == nil {
			roots = append(roots, obj)
			continue
		}
		if _, ok := ids[*obj.ParentID]; !ok {
			roots = append(roots, obj)
			continue
		}
		children[*obj.ParentID] = append(children[*obj.ParentID], obj)
	}

	byOrdinal := func(list []models.LearningObject) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Ordinal < list[j].Ordinal })
	}

	result := make([]models.LearningObject, 0, len(objects))
	var walk func(list []models.LearningObject)
	walk = func(list []models.LearningObject) {
		byOrdinal(list)
		for _, obj := range list {
			result = append(result, obj)
			walk(children[obj.ID])
		}
	}
	walk(roots)
	return result
}

// AsyncHash returns the HMAC-SHA256 of "{userID}.{exerciseID}" keyed by the shared secret, hex encoded.
func AsyncHash(secret string, userID, exerciseID uint) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%d", userID, exerciseID)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAsyncHash compares hash against the expected value in constant time.
func VerifyAsyncHash(secret string, userID, exerciseID uint, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	expected := AsyncHash(secret, userID, exerciseID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(hash))))
}

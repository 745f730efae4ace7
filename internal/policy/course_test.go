package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/astra-go-api/internal/models"
)

func uintPtr(v uint) *uint { return &v }

func TestCheckCourseLanguage(t *testing.T) {
	require.Equal(t, "sv", CheckCourseLanguage(nil, "sv"))

	cfg := &models.CourseConfig{Languages: "fi|en"}
	require.Equal(t, "en", CheckCourseLanguage(cfg, "en"))
	require.Equal(t, "fi", CheckCourseLanguage(cfg, "sv"))
}

func TestUpdateNameWithOrder(t *testing.T) {
	require.Equal(t, "3. Loops", UpdateNameWithOrder("1. Loops", 3, models.NumberingArabic))
	require.Equal(t, "IV Loops", UpdateNameWithOrder("2. Loops", 4, models.NumberingRoman))
	require.Equal(t, "Loops", UpdateNameWithOrder("II Loops", 2, models.NumberingNone))
	require.Equal(t, "1. Very hard", UpdateNameWithOrder("Very hard", 1, models.NumberingArabic))
	require.Equal(t, "MCMXCIV", RomanNumeral(1994))
}

func TestSortLearningObjects(t *testing.T) {
	objects := []models.LearningObject{
		{ID: 3, Ordinal: 1, ParentID: uintPtr(2)},
		{ID: 1, Ordinal: 2},
		{ID: 2, Ordinal: 1},
		{ID: 4, Ordinal: 0, ParentID: uintPtr(2)},
		{ID: 5, Ordinal: 1, ParentID: uintPtr(1)},
	}

	sorted := SortLearningObjects(objects)
	ids := make([]uint, 0, len(sorted))
	for _, obj := range sorted {
		ids = append(ids, obj.ID)
	}
	require.Equal(t, []uint{2, 4, 3, 1, 5}, ids)
}

func TestAsyncHash(t *testing.T) {
	hash := AsyncHash("secret", 5, 9)
	require.Len(t, hash, 64)
	require.True(t, VerifyAsyncHash("secret", 5, 9, hash))
	require.False(t, VerifyAsyncHash("secret", 9, 5, hash))
	require.False(t, VerifyAsyncHash("other", 5, 9, hash))
	require.False(t, VerifyAsyncHash("", 5, 9, hash))
}

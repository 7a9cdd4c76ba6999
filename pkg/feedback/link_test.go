package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFeedbackURL(t *testing.T) {
	link, err := BuildFeedbackURL("https://school.example/", "s-1", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "https://school.example/feedback/s-1?name=Ada+Lovelace", link)

	link, err = BuildFeedbackURL("https://school.example", "s-1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://school.example/feedback/s-1", link)

	link, err = BuildFeedbackURL("https://school.example", "jo se", "Zoë & co")
	require.NoError(t, err)
	assert.Equal(t, "https://school.example/feedback/jo%20se?name=Zo%C3%AB+%26+co", link)
}

func TestBuildFeedbackURLErrors(t *testing.T) {
	_, err := BuildFeedbackURL("https://school.example", "a/b", "")
	assert.True(t, IsErrorCode(err, ErrCodeInvalidStudent))

	_, err = BuildFeedbackURL("not a url", "s-1", "")
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))
}

func TestFeedbackLinkRoundTrip(t *testing.T) {
	raw, err := BuildFeedbackURL("https://school.example/app", "jo se", "Zoë & co")
	require.NoError(t, err)

	link, err := ParseFeedbackLink(raw)
	require.NoError(t, err)
	assert.Equal(t, "jo se", link.StudentID)
	assert.Equal(t, "Zoë & co", link.Name)
	assert.Equal(t, "Zoë & co", link.DisplayName("Student"))
}

func TestParseFeedbackLinkErrors(t *testing.T) {
	for _, raw := range []string{
		"https://school.example/",
		"https://school.example/other/s-1",
		"https://school.example/feedback/..",
	} {
		_, err := ParseFeedbackLink(raw)
		assert.Error(t, err, raw)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	assert.Equal(t, "Friend", FeedbackLink{StudentID: "s-1"}.DisplayName("Friend"))
	assert.Equal(t, DefaultDisplayName, FeedbackLink{StudentID: "s-1"}.DisplayName(""))
}

func TestAvatarIndex(t *testing.T) {
	// "ab" = 97 + 98.
	assert.Equal(t, 195%8, AvatarIndex("ab", 8))
	assert.Equal(t, AvatarIndex("s-1", 8), AvatarIndex("s-1", 8))
	assert.Equal(t, 0, AvatarIndex("", 8))
	assert.Equal(t, 0, AvatarIndex("s-1", 0))
}

func TestAvatarFor(t *testing.T) {
	avatars := []string{"fox", "owl", "panda"}

	assert.Equal(t, "owl", FeedbackLink{Avatar: "1"}.AvatarFor(avatars))
	assert.Equal(t, "panda", FeedbackLink{Avatar: "panda"}.AvatarFor(avatars))
	assert.Equal(t, avatars[AvatarIndex("s-1", 3)], FeedbackLink{StudentID: "s-1", Avatar: "9"}.AvatarFor(avatars))
	assert.Equal(t, "", FeedbackLink{}.AvatarFor(nil))
}

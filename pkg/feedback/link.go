package feedback

import (
	"net/url"
	"strconv"
	"strings"
)

const feedbackPath = "feedback"

// FeedbackLink is the public page a student opens to hear their feedback.
type FeedbackLink struct {
	StudentID string
	Name      string
	Avatar    string
}

// BuildFeedbackURL returns "<base>/feedback/<id>?name=<name>". The name
// parameter is omitted when empty.
func BuildFeedbackURL(base, studentID, name string) (string, error) {
	if err := ValidateStudentID(studentID); err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", NewConfigError("invalid base url").AddDetail("base_url", base)
	}
	u = u.JoinPath(feedbackPath, studentID)
	if name = strings.TrimSpace(name); name != "" {
		q := url.Values{}
		q.Set("name", name)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ParseFeedbackLink reverses BuildFeedbackURL.
func ParseFeedbackLink(raw string) (FeedbackLink, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return FeedbackLink{}, NewConfigError("invalid feedback link").withCause(err).AddDetail("link", raw)
	}
	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(segments) < 2 || segments[len(segments)-2] != feedbackPath {
		return FeedbackLink{}, NewConfigError("not a feedback link").AddDetail("link", raw)
	}
	studentID, err := url.PathUnescape(segments[len(segments)-1])
	if err != nil {
		return FeedbackLink{}, NewConfigError("invalid feedback link").withCause(err).AddDetail("link", raw)
	}
	if err := ValidateStudentID(studentID); err != nil {
		return FeedbackLink{}, err
	}
	q := u.Query()
	return FeedbackLink{
		StudentID: studentID,
		Name:      strings.TrimSpace(q.Get("name")),
		Avatar:    q.Get("avatar"),
	}, nil
}

// DisplayName is the name to greet the student with.
func (l FeedbackLink) DisplayName(fallback string) string {
	if l.Name != "" {
		return l.Name
	}
	if fallback != "" {
		return fallback
	}
	return DefaultDisplayName
}

// AvatarIndex picks one of n avatars for seed: the sum of its code points
// modulo n. The same seed always yields the same avatar.
func AvatarIndex(seed string, n int) int {
	if n <= 0 {
		return 0
	}
	sum := 0
	for _, r := range seed {
		sum += int(r)
	}
	return sum % n
}

// AvatarFor resolves the avatar to show: an explicit index from the link
// wins, otherwise it is derived from the student id.
func (l FeedbackLink) AvatarFor(avatars []string) string {
	if len(avatars) == 0 {
		return ""
	}
	if i, err := strconv.Atoi(l.Avatar); err == nil && i >= 0 && i < len(avatars) {
		return avatars[i]
	}
	for _, a := range avatars {
		if a == l.Avatar {
			return a
		}
	}
	return avatars[AvatarIndex(l.StudentID, len(avatars))]
}

// DefaultAvatars are the animal avatars of the feedback page.
var DefaultAvatars = []string{
	"fox", "owl", "panda", "koala", "tiger", "otter", "penguin", "rabbit",
}

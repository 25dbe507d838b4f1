package report

import (
	"regexp"
	"strings"
)

// Topics builds the MQTT topics of one run.
type Topics struct {
	Prefix string
	Run    string
}

// Status is the will topic carrying online / offline.
func (t Topics) Status() string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Run), "status")
}

// Result is the topic for one test's result.
func (t Topics) Result(name string) string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Run), "result", sanitizeTopic(name))
}

// Summary is the topic for the run summary.
func (t Topics) Summary() string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Run), "summary")
}

func mkTopic(parts ...string) string {
	return strings.Join(parts, "/")
}

var topicRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeTopic(v string) string {
	return strings.ToLower(topicRe.ReplaceAllString(v, ""))
}

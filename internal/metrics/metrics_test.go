package metrics

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/":                               "/",
		"/v1/projects":                    "/v1/projects",
		"/v1/tasks/550e8400-e29b-41d4-a7": "/v1/tasks/:id",
		"/healthz":                        "/healthz",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordIntegrationAttemptDoesNotPanic(t *testing.T) {
	RecordIntegrationAttempt("succeeded")
	RecordChangeSetApplied("applied")
}

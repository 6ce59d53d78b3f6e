package review

import "testing"

func baseFinding() Finding {
	return Finding{
		ID:       "f-1",
		Pass:     PassSecurity,
		Severity: SeverityP1,
		Title:    "SQL built from user input",
		Body:     "The query concatenates the request parameter.",
		File:     "internal/store/query.go",
		Line:     42,
	}
}

func TestFingerprint_Stable(t *testing.T) {
	f := baseFinding()
	if Fingerprint(f) != Fingerprint(f) {
		t.Error("Fingerprint should be deterministic")
	}
	if len(Fingerprint(f)) != 64 {
		t.Errorf("Fingerprint length = %d, want 64 hex chars", len(Fingerprint(f)))
	}
}

func TestFingerprint_IgnoresWhitespaceAndCase(t *testing.T) {
	a := baseFinding()
	b := baseFinding()
	b.Title = "  sql BUILT   from\tuser input "
	b.Body = "the query\nconcatenates   the REQUEST parameter."
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("whitespace/case-only differences should not change the fingerprint")
	}
}

func TestFingerprint_IgnoresAgentID(t *testing.T) {
	a := baseFinding()
	b := baseFinding()
	b.ID = "something-else"
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("agent-assigned id must not affect identity")
	}
}

func TestFingerprint_FieldChanges(t *testing.T) {
	base := Fingerprint(baseFinding())
	mutations := map[string]func(*Finding){
		"file":     func(f *Finding) { f.File = "internal/store/other.go" },
		"line":     func(f *Finding) { f.Line = 43 },
		"pass":     func(f *Finding) { f.Pass = PassQuality },
		"severity": func(f *Finding) { f.Severity = SeverityP2 },
		"title":    func(f *Finding) { f.Title = "Different title" },
		"body":     func(f *Finding) { f.Body = "Different body" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			f := baseFinding()
			mutate(&f)
			if Fingerprint(f) == base {
				t.Errorf("changing %s should change the fingerprint", name)
			}
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name string
		f    Finding
		root string
		want string
	}{
		{
			name: "relative file",
			f:    Finding{File: "./src/a.ts", Line: 10, Title: "  Missing   Check "},
			root: "/work/repo",
			want: "src/a.ts|10|missing check",
		},
		{
			name: "absolute file under root",
			f:    Finding{File: "/work/repo/src/a.ts", Line: 10, Title: "X"},
			root: "/work/repo",
			want: "src/a.ts|10|x",
		},
		{
			name: "macOS private prefix on file",
			f:    Finding{File: "/private/var/folders/ab/T/run/src/a.ts", Line: 10, Title: "X"},
			root: "/var/folders/ab/T/run",
			want: "src/a.ts|10|x",
		},
		{
			name: "macOS private prefix on root",
			f:    Finding{File: "/tmp/run/src/a.ts", Line: 10, Title: "X"},
			root: "/private/tmp/run",
			want: "src/a.ts|10|x",
		},
		{
			name: "outside root falls back to slash-normalized path",
			f:    Finding{File: `C:\other\src\a.ts`, Line: 10, Title: "X"},
			root: "/work/repo",
			want: "C:/other/src/a.ts|10|x",
		},
		{
			name: "absolute path outside root",
			f:    Finding{File: "/elsewhere/a.ts", Line: 1, Title: "X"},
			root: "/work/repo",
			want: "/elsewhere/a.ts|1|x",
		},
		{
			name: "non-positive line omitted",
			f:    Finding{File: "a.go", Line: 0, Title: "X"},
			want: "a.go||x",
		},
		{
			name: "title only",
			f:    Finding{Title: "Global issue"},
			want: "||global issue",
		},
		{
			name: "no signal",
			f:    Finding{Body: "only a body", Line: -1},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalKey(tt.f, tt.root); got != tt.want {
				t.Errorf("CanonicalKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalKey_TolerantAcrossEnvironments(t *testing.T) {
	a := Finding{Pass: PassQuality, Severity: SeverityP2, File: "/home/ci/repo/pkg/x.go", Line: 7, Title: "Leak"}
	b := Finding{Pass: PassQuality, Severity: SeverityP2, File: "/Users/dev/src/repo/pkg/x.go", Line: 7, Title: "leak"}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("differing absolute paths should give different fingerprints")
	}
	if CanonicalKey(a, "/home/ci/repo") != CanonicalKey(b, "/Users/dev/src/repo") {
		t.Error("canonical keys should match once paths are relativized")
	}
}

func TestFingerprintKey_OrderIndependent(t *testing.T) {
	a := baseFinding()
	b := baseFinding()
	b.Line = 99
	if FingerprintKey([]Finding{a, b}) != FingerprintKey([]Finding{b, a}) {
		t.Error("FingerprintKey should not depend on finding order")
	}
	if FingerprintKey(nil) != "" {
		t.Error("FingerprintKey(nil) should be empty")
	}
}

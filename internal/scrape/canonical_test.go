package scrape

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Story",
			want: "https://example.com/Story",
		},
		{
			name: "drops default port",
			in:   "https://example.com:443/story",
			want: "https://example.com/story",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/story#comments",
			want: "https://example.com/story",
		},
		{
			name: "strips tracking params",
			in:   "https://example.com/story?utm_source=mail&utm_campaign=x&fbclid=abc&id=7",
			want: "https://example.com/story?id=7",
		},
		{
			name: "sorts query keys",
			in:   "https://example.com/story?b=2&a=1",
			want: "https://example.com/story?a=1&b=2",
		},
		{
			name: "trims trailing slash",
			in:   "https://example.com/story/",
			want: "https://example.com/story",
		},
		{
			name: "keeps root slash",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			if err != nil {
				t.Fatalf("Canonicalize(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFingerprintCollapsesVariants(t *testing.T) {
	variants := []string{
		"https://example.com/story?utm_source=newsletter",
		"HTTPS://EXAMPLE.COM/story",
		"https://example.com:443/story/",
		"https://example.com/story#top",
	}

	base, err := Fingerprint("https://example.com/story")
	if err != nil {
		t.Fatal(err)
	}
	if len(base) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(base))
	}

	for _, v := range variants {
		fp, err := Fingerprint(v)
		if err != nil {
			t.Fatalf("Fingerprint(%q): %v", v, err)
		}
		if fp != base {
			t.Errorf("Fingerprint(%q) = %s, want %s", v, fp, base)
		}
	}
}

func TestFingerprintDistinguishesArticles(t *testing.T) {
	a, err := Fingerprint("https://example.com/story-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fingerprint("https://example.com/story-2")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("distinct URLs produced the same fingerprint")
	}
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Schools   expand   tutoring  ", "Schools expand tutoring"},
		{"Story: Clinic opens downtown", "Clinic opens downtown"},
		{"<b>Housing</b> vote delayed again", "Housing vote delayed again"},
	}
	for _, tc := range cases {
		if got := CleanTitle(tc.in); got != tc.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

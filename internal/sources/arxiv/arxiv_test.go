package arxiv

import (
	"encoding/xml"
	"testing"
)

func TestArxivID(t *testing.T) {
	cases := map[string]string{
		"http://arxiv.org/abs/2308.04079v1": "2308.04079v1",
		"http://arxiv.org/abs/2308.04079/":  "2308.04079",
	}
	for in, want := range cases {
		if got := arxivID(in); got != want {
			t.Errorf("arxivID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToCandidate_FromAtomEntry(t *testing.T) {
	raw := `<entry xmlns="http://www.w3.org/2005/Atom">
		<id>http://arxiv.org/abs/2308.04079v1</id>
		<title>3D Gaussian Splatting
 for Real-Time Radiance Field Rendering</title>
		<summary>We introduce three key elements.</summary>
		<published>2023-08-08T00:00:00Z</published>
		<author><name>Bernhard Kerbl</name></author>
		<author><name>Georgios Kopanas</name></author>
	</entry>`

	var entry atomEntry
	if err := xml.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("unmarshal atom entry: %v", err)
	}

	c := toCandidate(entry)
	if c.SourceID != "2308.04079v1" {
		t.Errorf("SourceID = %q", c.SourceID)
	}
	if c.Year != 2023 {
		t.Errorf("Year = %d, want 2023", c.Year)
	}
	if len(c.Authors) != 2 {
		t.Errorf("Authors = %v", c.Authors)
	}
	if c.ExternalIDs["arxiv"] != "2308.04079v1" {
		t.Errorf("external id = %q", c.ExternalIDs["arxiv"])
	}
	if c.Title == "" {
		t.Error("Title must not be empty")
	}
	for _, r := range c.Title {
		if r == '\n' {
			t.Error("newlines inside arXiv titles must be replaced")
		}
	}
}

package stubserver

import (
	"bytes"
	"fmt"
	"strings"
)

// renderMemberPDF lays out one line per member on a single-page PDF.
func renderMemberPDF(title string, members []Member) []byte {
	var content bytes.Buffer
	content.WriteString("BT /F1 14 Tf 50 800 Td ")
	fmt.Fprintf(&content, "(%s) Tj ", escapePDFText(title))
	content.WriteString("/F1 10 Tf ")
	for _, member := range members {
		line := fmt.Sprintf("%d  %s  %s  %s", member.ID, member.Name, member.Gotra, member.ContactNumber)
		fmt.Fprintf(&content, "0 -16 Td (%s) Tj ", escapePDFText(line))
	}
	content.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var document bytes.Buffer
	document.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for index, object := range objects {
		offsets[index] = document.Len()
		fmt.Fprintf(&document, "%d 0 obj\n%s\nendobj\n", index+1, object)
	}
	xrefOffset := document.Len()
	fmt.Fprintf(&document, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, offset := range offsets {
		fmt.Fprintf(&document, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&document, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)
	return document.Bytes()
}

func escapePDFText(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`, "\r", " ", "\n", " ")
	return replacer.Replace(text)
}

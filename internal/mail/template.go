// Package mail prepares and sends the Dutch confirmation mails for clinic
// bookings. Templates are plain files with optional "Van:" and "Onderwerp:"
// header lines followed by an HTML body carrying <Placeholder> markers.
package mail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrTemplateNotFound = errors.New("mail: template not found")

const fallbackSenderName = "Thermoclinics"

// Prepared is a template with its header lines split off, ready for merging.
type Prepared struct {
	Body       string
	Subject    string
	SenderName string
}

// TemplateStore loads a raw mail template by reference.
type TemplateStore interface {
	Load(ctx context.Context, ref string) (string, error)
}

// DirStore reads templates as files under a directory. The reference is the
// file name without extension; ".html" and ".txt" are tried in that order.
type DirStore struct {
	Dir string
}

func (d DirStore) Load(_ context.Context, ref string) (string, error) {
	for _, ext := range []string{".html", ".txt"} {
		b, err := os.ReadFile(filepath.Join(d.Dir, ref+ext))
		if err == nil {
			return string(b), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, ref)
}

// Prepare splits the template header lines from the body. The first line may
// name the sender ("Van: ..."), the second the subject ("Onderwerp: ...").
// Missing headers fall back to the default sender and a generic subject.
func Prepare(raw string) Prepared {
	p := Prepared{
		Subject:    "Informatie over: <Eventnaam>",
		SenderName: fallbackSenderName,
	}
	lines := strings.Split(raw, "\n")
	i := 0
	if i < len(lines) && strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[i])), "van:") {
		p.SenderName = headerValue(lines[i])
		i++
	}
	if i < len(lines) && strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[i])), "onderwerp:") {
		p.Subject = headerValue(lines[i])
		i++
	}
	p.Body = strings.TrimLeft(strings.Join(lines[i:], "\n"), "\n")
	return p
}

func headerValue(line string) string {
	_, v, _ := strings.Cut(line, ":")
	return strings.TrimSpace(v)
}

var timeArithmeticRe = regexp.MustCompile(`<([A-Za-z_]+)\s*([+-])\s*(\d+)\s*min>`)

// Merge substitutes the placeholder map into the prepared body and subject.
// Time arithmetic markers like "<Tijd + 30 min>" resolve against the base
// placeholder first; unresolvable markers are left verbatim. The subject is
// whitespace-normalized after substitution.
func Merge(p Prepared, placeholders map[string]string) (body, subject string) {
	body = resolveTimeArithmetic(p.Body, placeholders)
	subject = p.Subject
	for marker, value := range placeholders {
		body = strings.ReplaceAll(body, marker, value)
		subject = strings.ReplaceAll(subject, marker, value)
	}
	subject = regexp.MustCompile(`\s+([!?.,;:])`).ReplaceAllString(subject, "$1")
	subject = strings.Join(strings.Fields(subject), " ")
	return body, subject
}

func resolveTimeArithmetic(text string, placeholders map[string]string) string {
	return timeArithmeticRe.ReplaceAllStringFunc(text, func(match string) string {
		m := timeArithmeticRe.FindStringSubmatch(match)
		base, ok := placeholders["<"+m[1]+">"]
		if !ok || base == "" {
			return match
		}
		parts := regexp.MustCompile(`[:.]`).Split(base, 2)
		hours, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return match
		}
		minutes := 0
		if len(parts) > 1 {
			minutes, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
		offset, _ := strconv.Atoi(m[3])
		if m[2] == "-" {
			offset = -offset
		}
		t := time.Date(2000, 1, 1, hours, minutes, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
		return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
	})
}

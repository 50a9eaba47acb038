// Package presentation renders rostersync data for the CLI and the admin
// API, as JSON or as styled terminal text.
package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	footerStyle = lipgloss.NewStyle().Faint(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	json   bool
}

// NewFormatter creates a formatter that writes styled text, or indented JSON
// when asJSON is set.
func NewFormatter(writer io.Writer, asJSON bool) *Formatter {
	return &Formatter{
		writer: writer,
		json:   asJSON,
	}
}

// JSON writes v as indented JSON regardless of mode.
func (f *Formatter) JSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatListing writes a paged member listing.
func (f *Formatter) FormatListing(l ListingDTO) error {
	if f.json {
		return f.JSON(l)
	}
	if l.Total == 0 {
		return f.println(warnStyle.Render("No members registered."))
	}
	for _, p := range l.Pages {
		body := titleStyle.Render("Members") + "\n" + p.Text + "\n" + footerStyle.Render(p.Footer)
		if err := f.println(boxStyle.Render(body)); err != nil {
			return err
		}
	}
	return nil
}

// FormatUntagged writes the untagged member report.
func (f *Formatter) FormatUntagged(u UntaggedDTO) error {
	if f.json {
		return f.JSON(u)
	}
	if len(u.Members) == 0 {
		return f.println(okStyle.Render(fmt.Sprintf("Every member carries %q.", u.Tag)))
	}
	for _, chunk := range u.Report {
		body := warnStyle.Render(fmt.Sprintf("Members without %q", u.Tag)) + "\n" + chunk
		if err := f.println(boxStyle.Render(body)); err != nil {
			return err
		}
	}
	return nil
}

// FormatProfile writes a lookup result.
func (f *Formatter) FormatProfile(p ProfileDTO) error {
	if f.json {
		return f.JSON(p)
	}
	status := "⚪ Offline"
	switch {
	case p.PlaceName != "":
		status = "🟢 Playing " + p.PlaceName
	case p.Status != "offline":
		status = "🟢 " + strings.ReplaceAll(p.Status, "_", " ")
	}

	rows := []string{
		titleStyle.Render(fmt.Sprintf("%s (@%s)", p.DisplayName, p.Username)),
		field("ID", fmt.Sprint(p.ID)),
		field("Status", status),
		field("Friends", fmt.Sprint(p.Friends)),
		field("Followers", fmt.Sprint(p.Followers)),
		field("Profile", p.ProfileURL),
	}
	if p.JoinURL != "" {
		rows = append(rows, field("Join", p.JoinURL))
	}
	if p.AvatarURL != "" {
		rows = append(rows, field("Avatar", p.AvatarURL))
	}
	return f.println(boxStyle.Render(strings.Join(rows, "\n")))
}

// FormatReconcile writes the outcome of a pass.
func (f *Formatter) FormatReconcile(r ReconcileDTO) error {
	if f.json {
		return f.JSON(r)
	}
	summary := fmt.Sprintf("Checked %d, changed %d, failed %d in %dms",
		r.Checked, len(r.Changes), len(r.Failures), r.DurationMS)
	if err := f.println(titleStyle.Render(summary)); err != nil {
		return err
	}
	for _, chunk := range r.Text {
		if err := f.println(boxStyle.Render(chunk)); err != nil {
			return err
		}
	}
	for _, fail := range r.Failures {
		if err := f.println(warnStyle.Render(fmt.Sprintf("✗ %s: %s", fail.Key, fail.Reason))); err != nil {
			return err
		}
	}
	return nil
}

// FormatMember writes a single member, used after add.
func (f *Formatter) FormatMember(m MemberDTO) error {
	if f.json {
		return f.JSON(m)
	}
	return f.println(okStyle.Render(fmt.Sprintf("Added %s as %s (owner %s)", m.Username, m.DisplayName, m.OwnerRef)))
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-10s", label)) + " " + value
}

func (f *Formatter) println(s string) error {
	_, err := fmt.Fprintln(f.writer, s)
	return err
}

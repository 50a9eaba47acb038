package presentation

import (
	"github.com/zjrosen/rostersync/internal/directory"
	"github.com/zjrosen/rostersync/internal/reconcile"
	"github.com/zjrosen/rostersync/internal/registry"
	"github.com/zjrosen/rostersync/internal/report"
)

// MemberDTO represents one tracked member for presentation.
type MemberDTO struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	OwnerRef    string `json:"owner_ref"`
}

// PageDTO is one page of the sorted member listing.
type PageDTO struct {
	Members []MemberDTO `json:"members"`
	Footer  string      `json:"footer"`
	Text    string      `json:"text"`
}

// ListingDTO is the full paged listing.
type ListingDTO struct {
	Pages []PageDTO `json:"pages"`
	Total int       `json:"total"`
}

// UntaggedDTO lists members missing the community tag, with the rendered
// report split into message-sized chunks.
type UntaggedDTO struct {
	Tag      string      `json:"tag"`
	Members  []MemberDTO `json:"members"`
	Mentions string      `json:"mentions,omitempty"`
	Report   []string    `json:"report"`
}

// ProfileDTO is an ad-hoc lookup result.
type ProfileDTO struct {
	Username    string `json:"username"`
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Status      string `json:"status"`
	PlaceName   string `json:"place_name,omitempty"`
	JoinURL     string `json:"join_url,omitempty"`
	Friends     int    `json:"friends"`
	Followers   int    `json:"followers"`
	ProfileURL  string `json:"profile_url"`
}

// ReconcileDTO is the outcome of a pass plus its rendered change report.
type ReconcileDTO struct {
	reconcile.Report
	DurationMS int64    `json:"duration_ms"`
	Text       []string `json:"text"`
}

// FromMember converts a registry member.
func FromMember(m registry.Member) MemberDTO {
	return MemberDTO{Username: m.Key, DisplayName: m.DisplayName, OwnerRef: m.OwnerRef}
}

// FromMembers converts members, never returning nil.
func FromMembers(members []registry.Member) []MemberDTO {
	out := make([]MemberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, FromMember(m))
	}
	return out
}

// FromPages converts a paged listing.
func FromPages(pages []report.Page) ListingDTO {
	dto := ListingDTO{Pages: make([]PageDTO, 0, len(pages))}
	for _, p := range pages {
		dto.Pages = append(dto.Pages, PageDTO{
			Members: FromMembers(p.Members),
			Footer:  p.Footer(),
			Text:    report.FormatPage(p),
		})
		dto.Total = p.Total
	}
	return dto
}

// FromUntagged builds the untagged report for tag.
func FromUntagged(tag string, members []registry.Member) UntaggedDTO {
	dto := UntaggedDTO{
		Tag:     tag,
		Members: FromMembers(members),
		Report:  report.Chunk(report.FormatUntagged(members), report.MaxChunkChars),
	}
	if len(members) > 0 {
		dto.Mentions = report.Mentions(members)
	}
	if dto.Report == nil {
		dto.Report = []string{}
	}
	return dto
}

// FromProfile converts a directory profile.
func FromProfile(p directory.Profile) ProfileDTO {
	return ProfileDTO{
		Username:    p.Key,
		ID:          p.Identity.ID,
		DisplayName: p.Identity.DisplayName,
		AvatarURL:   p.Identity.AvatarURL,
		Status:      p.Presence.Status.String(),
		PlaceName:   p.Presence.PlaceName,
		JoinURL:     p.Presence.JoinURL,
		Friends:     p.Counts.Friends,
		Followers:   p.Counts.Followers,
		ProfileURL:  p.ProfileURL,
	}
}

// FromReport converts a pass report, rendering its changes.
func FromReport(rep reconcile.Report) ReconcileDTO {
	text := report.Chunk(report.FormatChanges(rep.Changes), report.MaxChunkChars)
	if text == nil {
		text = []string{}
	}
	if rep.Changes == nil {
		rep.Changes = []reconcile.Change{}
	}
	return ReconcileDTO{
		Report:     rep,
		DurationMS: rep.Duration().Milliseconds(),
		Text:       text,
	}
}

// Package personalize renders content plan message templates against a
// specific recipient. Rendering is pure: no store access, no side
// effects, safe to repeat on every retry.
package personalize

import (
	"strconv"
	"strings"
)

// Context carries the attribute values a template may reference. The
// caller resolves them (including the recipient's referral count) once
// per delivery attempt.
type Context struct {
	RecipientName string
	OwnerName     string
	OwnerLink     string
	ReferralCount int
}

// Render substitutes the recognized placeholders in text and passes
// media references through unchanged. Unknown placeholders are left
// verbatim: a template typo must never block a send.
func Render(text string, mediaRefs []string, pctx Context) (string, []string) {
	rendered := text
	rendered = strings.ReplaceAll(rendered, "{recipient_name}", pctx.RecipientName)
	rendered = strings.ReplaceAll(rendered, "{owner_name}", pctx.OwnerName)
	rendered = strings.ReplaceAll(rendered, "{owner_link}", pctx.OwnerLink)
	rendered = strings.ReplaceAll(rendered, "{referral_count}", strconv.Itoa(pctx.ReferralCount))

	if mediaRefs == nil {
		return rendered, nil
	}
	out := make([]string, len(mediaRefs))
	copy(out, mediaRefs)
	return rendered, out
}

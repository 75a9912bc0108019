// Package agreement formats a completed integration negotiation into
// human-readable contract text. Rendering is a pure projection: it
// consults nothing beyond its inputs and is deterministic for
// identical inputs.
package agreement

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"landpool/api/internal/models"
)

// ErrNotCompleted is returned when rendering is attempted before both
// parties have signed.
var ErrNotCompleted = errors.New("agreement can only be rendered for a completed negotiation")

// PartyDetails is the display data for one side of the agreement,
// assembled by the caller from the party's parcel and signature.
type PartyDetails struct {
	OwnerID     string
	DisplayName string
	SurveyID    string
	SizeAcres   float64
	Centroid    models.GeoPoint
	Signature   models.Signature
}

// Render produces the narrative contract for a completed negotiation.
// The structure is fixed: parties, land description, term, profit
// split, dispute and termination clauses, signature block.
func Render(n *models.IntegrationNegotiation, requesting, target PartyDetails) (string, error) {
	if n.Status != models.NegotiationCompleted {
		return "", ErrNotCompleted
	}

	var b strings.Builder

	b.WriteString("LAND INTEGRATION AGREEMENT\n")
	b.WriteString("==========================\n\n")
	fmt.Fprintf(&b, "Agreement reference: %s\n", n.ID)
	if n.ExecutedAt != nil {
		fmt.Fprintf(&b, "Executed on: %s\n", n.ExecutedAt.UTC().Format("2 January 2006"))
	}
	b.WriteString("\n1. PARTIES\n\n")
	fmt.Fprintf(&b, "This agreement is entered into between %s (the \"First Party\", requesting party) and %s (the \"Second Party\", accepting party), together the \"Parties\".\n",
		requesting.DisplayName, target.DisplayName)

	b.WriteString("\n2. LAND DESCRIPTION\n\n")
	writeLandClause(&b, "First Party", requesting)
	writeLandClause(&b, "Second Party", target)
	fmt.Fprintf(&b, "The Parties pool a combined extent of %.2f acres for joint cultivation.\n", n.TotalSize)

	b.WriteString("\n3. TERM\n\n")
	months := termMonths(n.Period)
	fmt.Fprintf(&b, "The integration runs for a term of %d month%s, from %s to %s, unless terminated earlier under clause 5.\n",
		months, plural(months),
		n.Period.Start.UTC().Format("2 January 2006"),
		n.Period.End.UTC().Format("2 January 2006"))

	b.WriteString("\n4. CONTRIBUTION AND PROFIT SHARING\n\n")
	fmt.Fprintf(&b, "Land contribution is apportioned %.1f%% to the First Party and %.1f%% to the Second Party, in proportion to the pooled extents.\n",
		n.ContributionRatio.Requesting, n.ContributionRatio.Target)
	fmt.Fprintf(&b, "All net proceeds arising from the pooled land shall be shared %.1f%% to the First Party and %.1f%% to the Second Party.\n",
		n.ProfitSharingRatio.Requesting, n.ProfitSharingRatio.Target)

	b.WriteString("\n5. DISPUTES AND TERMINATION\n\n")
	b.WriteString("Any dispute arising out of this agreement shall first be referred to mediation before a mutually agreed third party. ")
	b.WriteString("Either Party may terminate for material breach with thirty days' written notice if the breach remains uncured. ")
	b.WriteString("On termination, each Party retains sole rights to their originally contributed land, and proceeds accrued to the date of termination are settled per clause 4.\n")

	b.WriteString("\n6. SIGNATURES\n\n")
	writeSignatureBlock(&b, "First Party", requesting)
	writeSignatureBlock(&b, "Second Party", target)

	return b.String(), nil
}

func writeLandClause(b *strings.Builder, label string, party PartyDetails) {
	fmt.Fprintf(b, "The %s contributes a parcel of %.2f acres", label, party.SizeAcres)
	if party.SurveyID != "" {
		fmt.Fprintf(b, " (survey no. %s)", party.SurveyID)
	}
	fmt.Fprintf(b, ", centered at %.7f, %.7f.\n", party.Centroid.Latitude, party.Centroid.Longitude)
}

func writeSignatureBlock(b *strings.Builder, label string, party PartyDetails) {
	fmt.Fprintf(b, "%s: %s\n", label, party.DisplayName)
	fmt.Fprintf(b, "  Signed at: %s\n", party.Signature.SignedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "  Record hash: %s\n\n", party.Signature.ContentHash)
}

// termMonths derives the whole-month term length from the period,
// rounding to the nearest month with a minimum of one.
func termMonths(p models.Period) int {
	days := p.End.Sub(p.Start).Hours() / 24
	months := int(math.Round(days / 30.4375))
	if months < 1 {
		months = 1
	}
	return months
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// Package rbac maps a principal's permission strings onto the
// CanSubmit/CanView/CanManageDrafts predicates. Every function here is
// pure — no storage, no network, no shared state — so the wildcard
// matching rules can be exhaustively table-tested.
package rbac

import (
	"strings"

	"github.com/pathwaybio/claire-core/internal/model"
)

// DraftAction names the action in a CanManageDrafts check.
type DraftAction string

const (
	DraftActionCreate DraftAction = "create"
	DraftActionUpdate DraftAction = "update"
	DraftActionDelete DraftAction = "delete"
	DraftActionRead   DraftAction = "read"
)

const adminPermission = "*"

func hasPermission(p model.Principal, want string) bool {
	if p.IsAdmin {
		return true
	}
	for _, perm := range p.Permissions {
		if perm == adminPermission {
			return true
		}
		if matchesWildcard(perm, want) {
			return true
		}
	}
	return false
}

// matchesWildcard reports whether granted (possibly ending in "*")
// covers want. "submit:*" covers "submit:anything"; "submit:SOP*" is
// the reserved "any SOP" grant (sop_id casing varies by namespace, so
// this one compares case-insensitively by design); exact strings must
// match exactly otherwise. Unknown permission strings grant nothing —
// there is no partial or fuzzy match beyond a single trailing "*".
func matchesWildcard(granted, want string) bool {
	if granted == want {
		return true
	}
	if strings.EqualFold(granted, "submit:SOP*") && strings.HasPrefix(want, "submit:") {
		return true
	}
	if strings.HasSuffix(granted, "*") {
		prefix := strings.TrimSuffix(granted, "*")
		return strings.HasPrefix(want, prefix)
	}
	return false
}

// CanSubmit reports whether p may submit against sopID. deprecated
// gates the submission on the explicit submit:deprecated permission,
// per the deprecation-override decision recorded in DESIGN.md; wildcard
// grants such as submit:* or submit:SOP* do not imply it.
func CanSubmit(p model.Principal, sopID string, deprecated bool) bool {
	if deprecated && !p.IsAdmin {
		override := false
		for _, perm := range p.Permissions {
			if perm == "submit:deprecated" || perm == adminPermission {
				override = true
			}
		}
		if !override {
			return false
		}
	}
	return hasPermission(p, "submit:*") || hasPermission(p, "submit:"+sopID)
}

// CanView reports whether p may view submission s.
func CanView(p model.Principal, s model.Submission) bool {
	if p.IsAdmin || hasPermission(p, "view:*") {
		return true
	}
	for _, perm := range p.Permissions {
		switch perm {
		case "view:group":
			if p.SharesGroupWith(submitterGroups(s)) {
				return true
			}
		case "view:own":
			if s.Submitter == p.Subject {
				return true
			}
		}
	}
	return false
}

// submitterGroups returns the groups associated with a submission's
// submitter. The core does not persist group membership per
// submission beyond the snapshot taken at submit time.
func submitterGroups(s model.Submission) []string {
	return s.Principal.Groups
}

// CanManageDrafts reports whether p may perform action on draft. Drafts
// are exclusively owned by their owner: only the owner or an admin may
// read, create, update, or delete one. A "draft:*" permission string
// never grants access to someone else's draft — permission strings
// gate what an owner or admin may do, they cannot substitute for
// ownership, per spec.md §3.
func CanManageDrafts(p model.Principal, action DraftAction, draft model.Draft) bool {
	return p.IsAdmin || draft.Owner == p.Subject
}

// FilterViewable returns the subset of submissions p can view, in
// their original order.
func FilterViewable(p model.Principal, submissions []model.Submission) []model.Submission {
	out := make([]model.Submission, 0, len(submissions))
	for _, s := range submissions {
		if CanView(p, s) {
			out = append(out, s)
		}
	}
	return out
}

package forms

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/formgate/formgate/internal/observability"
	"github.com/formgate/formgate/internal/platform"
)

// RoleActionApplier validates and executes role grants and revokes triggered
// by a workflow decision. Every guard failure aborts the whole action with a
// logged reason; nothing is partially applied.
type RoleActionApplier struct {
	platform platform.Client
}

// NewRoleActionApplier constructs an applier.
func NewRoleActionApplier(client platform.Client) *RoleActionApplier {
	return &RoleActionApplier{platform: client}
}

// Apply runs the configured role action for a decided response. It reports
// whether the action completed; failures are logged, never propagated.
func (a *RoleActionApplier) Apply(ctx context.Context, form *Form, userID *int64, roleIDsCsv string, action RoleActionType, reviewerID int64, approved bool) bool {
	if form.AllowAnonymous || userID == nil {
		a.abort("form %d: refusing role action for anonymous submission", form.ID)
		return false
	}
	if action != RoleActionAdd && action != RoleActionRemove {
		a.abort("form %d: no role action configured", form.ID)
		return false
	}

	guild, err := a.platform.Guild(ctx, form.GuildID)
	if err != nil {
		a.abort("form %d: guild %d unresolvable: %v", form.ID, form.GuildID, err)
		return false
	}

	member, err := a.platform.Member(ctx, guild.ID, *userID)
	if err != nil {
		a.abort("form %d: member %d unresolvable in guild %d: %v", form.ID, *userID, guild.ID, err)
		return false
	}

	roleIDs, err := ParseRoleIDList(roleIDsCsv)
	if err != nil || len(roleIDs) == 0 {
		a.abort("form %d: role list %q is empty or unparsable", form.ID, roleIDsCsv)
		return false
	}

	botPosition, err := a.platform.BotTopRolePosition(ctx, guild.ID)
	if err != nil {
		a.abort("form %d: bot hierarchy position unresolvable: %v", form.ID, err)
		return false
	}

	valid := make([]int64, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		role, err := a.platform.Role(ctx, guild.ID, roleID)
		if err != nil {
			log.Printf("forms: role action: dropping role %d, not found in guild %d", roleID, guild.ID)
			continue
		}
		if role.Position >= botPosition {
			log.Printf("forms: role action: dropping role %d, above bot hierarchy", roleID)
			continue
		}
		if role.Everyone {
			log.Printf("forms: role action: dropping everyone-role %d", roleID)
			continue
		}
		if role.Managed {
			log.Printf("forms: role action: dropping managed role %d", roleID)
			continue
		}
		valid = append(valid, roleID)
	}
	if len(valid) == 0 {
		a.abort("form %d: no valid roles remain after filtering", form.ID)
		return false
	}

	bot, err := a.platform.BotMember(ctx, guild.ID)
	if err != nil || !bot.HasPermissions(platform.PermissionManageRoles) {
		a.abort("form %d: bot lacks manage-roles in guild %d", form.ID, guild.ID)
		return false
	}

	outcome := "rejection"
	if approved {
		outcome = "approval"
	}
	reason := fmt.Sprintf("Form %q %s by reviewer %d", form.Name, outcome, reviewerID)

	for _, roleID := range valid {
		var opErr error
		switch action {
		case RoleActionAdd:
			if member.HasRole(roleID) {
				continue
			}
			opErr = a.platform.GrantRole(ctx, guild.ID, *userID, roleID, reason)
		case RoleActionRemove:
			if !member.HasRole(roleID) {
				continue
			}
			opErr = a.platform.RevokeRole(ctx, guild.ID, *userID, roleID, reason)
		}
		if opErr != nil {
			if errors.Is(opErr, platform.ErrPermissionDenied) {
				log.Printf("forms: role action: permission denied for role %d on user %d: %v", roleID, *userID, opErr)
			} else {
				log.Printf("forms: role action: role %d on user %d failed: %v", roleID, *userID, opErr)
			}
			return false
		}
	}

	return true
}

func (a *RoleActionApplier) abort(format string, args ...any) {
	observability.RoleActionAbortsTotal.Inc()
	log.Printf("forms: role action: "+format, args...)
}

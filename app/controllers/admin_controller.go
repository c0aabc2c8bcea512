package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/usercontext"
)

// InvariantCounters exposes the invariant-violation counters.
type InvariantCounters interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
	Drain(ctx context.Context) (map[string]int64, error)
}

// AdminController handles admin-related HTTP requests using repository pattern
type AdminController struct {
	repos      *repository.Repositories
	invariants InvariantCounters
}

// NewAdminController creates a new admin controller with repository dependencies
func NewAdminController(repos *repository.Repositories, invariants InvariantCounters) *AdminController {
	return &AdminController{repos: repos, invariants: invariants}
}

// HandleGetAccount returns the full stored record.
func (ac *AdminController) HandleGetAccount(c *fiber.Ctx) error {
	account, err := ac.repos.Accounts.Get(c.UserContext(), c.Params("id"), true)
	if err != nil {
		return storeFailure(c, "admin get account", err)
	}
	return c.JSON(account)
}

type disableRequest struct {
	Reason string `json:"reason"`
}

// HandleDisableAccount sets the kill switch. The next session refresh for the
// account fails.
func (ac *AdminController) HandleDisableAccount(c *fiber.Ctx) error {
	var in disableRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}
	return ac.setDisabled(c, repository.DisableUpdate{
		Disabled: true,
		By:       usercontext.GetAccountID(c),
		Reason:   strings.TrimSpace(in.Reason),
	})
}

// HandleEnableAccount lifts the kill switch.
func (ac *AdminController) HandleEnableAccount(c *fiber.Ctx) error {
	return ac.setDisabled(c, repository.DisableUpdate{Disabled: false})
}

func (ac *AdminController) setDisabled(c *fiber.Ctx, update repository.DisableUpdate) error {
	id := c.Params("id")
	if id == usercontext.GetAccountID(c) && update.Disabled {
		return badRequest(c, "admins cannot disable themselves")
	}
	account, err := ac.repos.Accounts.SetDisabled(c.UserContext(), id, update)
	if err != nil {
		return storeFailure(c, "set disabled", err)
	}
	log.Warnw("[Admin] Account kill switch changed", "accountId", id, "disabled", update.Disabled, "by", usercontext.GetAccountID(c), "reason", update.Reason)
	return c.JSON(fiber.Map{
		"id":             account.ID,
		"isDisabled":     account.IsDisabled,
		"disabledAt":     account.DisabledAt,
		"disabledBy":     account.DisabledBy,
		"disabledReason": account.DisabledReason,
	})
}

// HandleInvariantMetrics reports the invariant-violation counters.
func (ac *AdminController) HandleInvariantMetrics(c *fiber.Ctx) error {
	counts, err := ac.invariants.Snapshot(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Invariant counters unavailable: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "metrics unavailable"})
	}
	return c.JSON(fiber.Map{"counters": counts})
}

// HandleDrainInvariantMetrics returns the counters and resets them.
func (ac *AdminController) HandleDrainInvariantMetrics(c *fiber.Ctx) error {
	counts, err := ac.invariants.Drain(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Invariant counters unavailable: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "metrics unavailable"})
	}
	return c.JSON(fiber.Map{"counters": counts, "drained": true})
}

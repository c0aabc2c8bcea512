package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/quota"
)

// CounterController exposes the counter engine to the feature services.
type CounterController struct {
	accounts repository.AccountRepository
	quota    *quota.Service
}

func NewCounterController(accounts repository.AccountRepository, q *quota.Service) *CounterController {
	return &CounterController{accounts: accounts, quota: q}
}

type counterRequest struct {
	Amount int64 `json:"amount"`
	// Enforce checks the tier limit (after a due period reset) before
	// incrementing.
	Enforce bool `json:"enforce"`
}

func (cc *CounterController) parse(c *fiber.Ctx) (models.CounterField, counterRequest, error) {
	var in counterRequest
	field, err := models.ParseCounterField(c.Params("counter"))
	if err != nil {
		return "", in, err
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return "", in, errors.New("invalid JSON body")
		}
	}
	if in.Amount < 0 {
		return "", in, errors.New("amount must not be negative")
	}
	return field, in, nil
}

// HandleIncrement adds to a usage counter and returns the new value.
func (cc *CounterController) HandleIncrement(c *fiber.Ctx) error {
	field, in, err := cc.parse(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	id := c.Params("id")
	ctx := c.UserContext()

	if in.Enforce {
		account, err := cc.accounts.Get(ctx, id, true)
		if err != nil {
			return storeFailure(c, "read account for quota", err)
		}
		if err := cc.quota.Check(ctx, account, field, in.Amount); err != nil {
			if errors.Is(err, quota.ErrQuotaExceeded) {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "quota_exceeded", "counter": field.Key()})
			}
			return storeFailure(c, "check quota", err)
		}
	}

	value, err := cc.quota.Increment(ctx, id, field, in.Amount)
	if err != nil {
		return storeFailure(c, "increment counter", err)
	}
	return c.JSON(fiber.Map{"counter": field.Key(), "value": value})
}

// HandleDecrement refunds a usage counter, flooring at zero.
func (cc *CounterController) HandleDecrement(c *fiber.Ctx) error {
	field, in, err := cc.parse(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	value, err := cc.quota.Decrement(c.UserContext(), c.Params("id"), field, in.Amount)
	if err != nil {
		return storeFailure(c, "decrement counter", err)
	}
	return c.JSON(fiber.Map{"counter": field.Key(), "value": value})
}

// HandleReset zeroes a usage counter and stamps its reset time.
func (cc *CounterController) HandleReset(c *fiber.Ctx) error {
	field, _, err := cc.parse(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := cc.quota.Reset(c.UserContext(), c.Params("id"), field); err != nil {
		return storeFailure(c, "reset counter", err)
	}
	return c.JSON(fiber.Map{"counter": field.Key(), "value": 0})
}

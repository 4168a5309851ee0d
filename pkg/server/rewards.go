package server

import (
	"encoding/json"
	"fmt"

	"github.com/balatonbet/balaton/pkg/server/internal/db"
)

// RewardType tags the reward variants.
type RewardType string

const (
	RewardTypeToken RewardType = "token"
	RewardTypeItem  RewardType = "item"
)

// Reward is a tagged variant: either a token credit or an item grant.
// It replaces the legacy stringified reward lists with a structured
// format that decodes without evaluating stored data.
type Reward struct {
	Type     RewardType `json:"type"`
	Amount   float64    `json:"amount,omitempty"`
	ItemID   int        `json:"item_id,omitempty"`
	Quantity int        `json:"quantity,omitempty"`
}

// TokenReward builds a token-credit reward.
func TokenReward(amount float64) Reward {
	return Reward{Type: RewardTypeToken, Amount: amount}
}

// ItemReward builds an item-grant reward.
func ItemReward(itemID, quantity int) Reward {
	return Reward{Type: RewardTypeItem, ItemID: itemID, Quantity: quantity}
}

// grant converts the reward to its archived form.
func (r Reward) grant() db.RewardGrant {
	return db.RewardGrant{
		Type:     string(r.Type),
		Amount:   r.Amount,
		ItemID:   r.ItemID,
		Quantity: r.Quantity,
	}
}

// rewardGrants converts rewards to their archived form.
func rewardGrants(rewards ...Reward) []db.RewardGrant {
	grants := make([]db.RewardGrant, 0, len(rewards))
	for _, r := range rewards {
		grants = append(grants, r.grant())
	}
	return grants
}

// UnmarshalJSON decodes a reward and rejects unknown or inconsistent
// variants.
func (r *Reward) UnmarshalJSON(data []byte) error {
	type rawReward Reward
	var raw rawReward
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case RewardTypeToken:
		if raw.Amount < 0 {
			return fmt.Errorf("token reward amount %v is negative", raw.Amount)
		}
		if raw.ItemID != 0 || raw.Quantity != 0 {
			return fmt.Errorf("token reward carries item fields")
		}
	case RewardTypeItem:
		if raw.ItemID <= 0 {
			return fmt.Errorf("item reward requires an item id")
		}
		if raw.Quantity <= 0 {
			return fmt.Errorf("item reward quantity %d must be positive", raw.Quantity)
		}
	default:
		return fmt.Errorf("unknown reward type %q", raw.Type)
	}
	*r = Reward(raw)
	return nil
}

package api

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/teampool/internal/domain"
	"github.com/punchamoorthee/teampool/internal/models"
)

// Amounts converts between whole-unit decimals on the wire and int64 minor units.
type Amounts struct {
	decimals int32
}

func NewAmounts(decimals int32) Amounts {
	return Amounts{decimals: decimals}
}

// ToMinor rejects values finer than one minor unit or outside the int64 range.
func (a Amounts) ToMinor(d decimal.Decimal) (int64, error) {
	minor := d.Shift(a.decimals)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), a.decimals)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s is out of range", d.String())
	}
	return minor.IntPart(), nil
}

func (a Amounts) FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -a.decimals)
}

func (a Amounts) Pool(p *domain.Pool) models.Pool {
	return models.Pool{
		ID:             p.ID,
		Creator:        p.Creator,
		Members:        append([]string{}, p.Members...),
		MaxMembers:     p.MaxMembers,
		Price:          a.FromMinor(p.Price),
		PricePerMember: a.FromMinor(p.PricePerMember),
		Status:         string(p.Status),
		Privacy:        string(p.Privacy),
		Vault:          a.FromMinor(p.Vault),
		VaultID:        p.VaultID,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (a Amounts) Vault(v *domain.Vault) models.Vault {
	return models.Vault{
		ID:        v.ID,
		PoolID:    v.PoolID,
		Authority: v.Authority,
		Amount:    a.FromMinor(v.Amount),
		PaidOut:   a.FromMinor(v.PaidOut),
		UpdatedAt: v.UpdatedAt,
	}
}

func (a Amounts) Transfer(tr domain.Transfer) models.Transfer {
	return models.Transfer{
		ID:            tr.ID,
		PoolID:        tr.PoolID,
		Kind:          string(tr.Kind),
		FromAccountID: tr.FromAccountID,
		ToAccountID:   tr.ToAccountID,
		Amount:        a.FromMinor(tr.Amount),
		CreatedAt:     tr.CreatedAt,
	}
}

func (a Amounts) Entry(e domain.LedgerEntry) models.LedgerEntry {
	return models.LedgerEntry{
		ID:         e.ID,
		TransferID: e.TransferID,
		AccountID:  e.AccountID,
		Delta:      a.FromMinor(e.Delta),
		CreatedAt:  e.CreatedAt,
	}
}

func (a Amounts) Account(acc *domain.Account) models.Account {
	return models.Account{
		ID:      acc.ID,
		Kind:    string(acc.Kind),
		Balance: a.FromMinor(acc.Balance),
	}
}

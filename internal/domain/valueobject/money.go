package valueobject

import (
	"fmt"
	"strings"

	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

const DefaultCurrency = "usd"

// Money хранит сумму в минимальных единицах валюты (центах), чтобы не терять точность.
type Money struct {
	Amount   int64
	Currency string
}

func NewMoney(amount int64, currency string) (Money, error) {
	if amount < 0 {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: strings.ToLower(currency)}, nil
}

// Times умножает цену на количество мест.
func (m Money) Times(n int) Money {
	return Money{Amount: m.Amount * int64(n), Currency: m.Currency}
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, strings.ToUpper(m.Currency))
}

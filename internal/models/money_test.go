package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoneyNormalisation(t *testing.T) {
	m, err := MoneyFromString("10.005")
	assert.NoError(t, err)
	assert.Equal(t, "10.01", m.String())

	m, err = MoneyFromString("10")
	assert.NoError(t, err)
	assert.Equal(t, "10.00", m.String())

	_, err = MoneyFromString("not-a-number")
	assert.Error(t, err)
}

func TestMoneyArithmetic(t *testing.T) {
	a, _ := MoneyFromString("100.10")
	b, _ := MoneyFromString("0.20")

	assert.Equal(t, "100.30", a.Add(b).String())
	assert.Equal(t, "99.90", a.Sub(b).String())
	assert.Equal(t, "-100.10", a.Neg().String())
	assert.Equal(t, "100.10", a.Neg().Abs().String())
	assert.True(t, a.GreaterThan(b))
	assert.False(t, b.GreaterThan(a))

	// Floating point would drop cents here; fixed point must not.
	sum := Money{}
	cent, _ := MoneyFromString("0.10")
	for i := 0; i < 10; i++ {
		sum = sum.Add(cent)
	}
	one, _ := MoneyFromString("1.00")
	assert.True(t, sum.Equal(one))
}

func TestMoneyDriverValue(t *testing.T) {
	m, _ := MoneyFromString("42.5")
	v, err := m.Value()
	assert.NoError(t, err)
	assert.Equal(t, "42.50", v)
}

func TestMoneyScan(t *testing.T) {
	var m Money
	assert.NoError(t, m.Scan("1200.00"))
	assert.Equal(t, "1200.00", m.String())

	assert.NoError(t, m.Scan([]byte("3.14159")))
	assert.Equal(t, "3.14", m.String())

	assert.Error(t, m.Scan("garbage"))
}

func TestMoneyJSON(t *testing.T) {
	m, _ := MoneyFromString("99.9")
	data, err := json.Marshal(m)
	assert.NoError(t, err)
	assert.Equal(t, `"99.90"`, string(data))

	var decoded Money
	assert.NoError(t, json.Unmarshal([]byte(`"12.345"`), &decoded))
	assert.Equal(t, "12.35", decoded.String())
}

func TestInsufficientBalanceError(t *testing.T) {
	available, _ := MoneyFromString("100.00")
	requested, _ := MoneyFromString("150.00")
	err := &InsufficientBalanceError{AccountName: "Till Cash", Available: available, Requested: requested}
	assert.Contains(t, err.Error(), `"Till Cash"`)
	assert.Contains(t, err.Error(), "100.00")
	assert.Contains(t, err.Error(), "150.00")
}

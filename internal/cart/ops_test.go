package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func curry(id string, spice SpiceLevel, qty int) Item {
	return Item{ID: id, ProductID: "lamb", Type: TypeCurry, Name: "Lamb Bunny", Price: 1250, Quantity: qty, SpiceLevel: spice}
}

func TestAddLine_MergesSameKeyKeepingLockedPrice(t *testing.T) {
	s := Snapshot{Items: []Item{curry("l1", SpiceHot, 1)}}
	add := curry("", SpiceHot, 2)
	add.Price = 1400

	out, err := AddLine(s, add)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, 3, out.Items[0].Quantity)
	assert.Equal(t, int64(1250), out.Items[0].Price)
	assert.Equal(t, 1, s.Items[0].Quantity, "input snapshot must not be mutated")
}

func TestAddLine_DifferentSpiceIsSeparateLine(t *testing.T) {
	s := Snapshot{Items: []Item{curry("l1", SpiceHot, 1)}}
	out, err := AddLine(s, curry("", SpiceMild, 1))
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	assert.NotEmpty(t, out.Items[1].ID)
}

func TestAddLine_RejectsOverMax(t *testing.T) {
	bunny := Item{ProductID: "loaf", Type: TypeBunny, Name: "Bunny Loaf", Price: 300, Quantity: 2, MaxQuantity: 3}
	s, err := AddLine(Snapshot{}, bunny)
	require.NoError(t, err)

	_, err = AddLine(s, bunny)
	assert.ErrorIs(t, err, ErrQuantityLimit)

	_, err = AddLine(Snapshot{}, Item{ProductID: "x", Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestSetQuantity(t *testing.T) {
	s := Snapshot{Items: []Item{curry("l1", SpiceHot, 1), {ID: "l2", ProductID: "rice", Type: TypeSide, Price: 250, Quantity: 1, MaxQuantity: 5}}}

	out, err := SetQuantity(s, "l2", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Items[1].Quantity)

	_, err = SetQuantity(s, "l2", 6)
	assert.ErrorIs(t, err, ErrQuantityLimit)

	out, err = SetQuantity(s, "l1", 0)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "l2", out.Items[0].ID)

	_, err = RemoveLine(s, "missing")
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestNormalize_DropsAndFolds(t *testing.T) {
	blank := "  "
	s := Snapshot{
		Items:     []Item{curry("a", SpiceHot, 1), curry("b", SpiceHot, 2), curry("c", SpiceMild, 0)},
		PromoCode: &blank,
	}
	out := Normalize(s)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "a", out.Items[0].ID)
	assert.Equal(t, 3, out.Items[0].Quantity)
	assert.Nil(t, out.PromoCode)
}

func TestWithPromo(t *testing.T) {
	out := WithPromo(Snapshot{}, " bunny10 ")
	assert.Equal(t, "BUNNY10", out.Promo())

	out = WithPromo(out, "")
	assert.Nil(t, out.PromoCode)
}

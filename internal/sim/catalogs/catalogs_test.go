package catalogs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRepoCatalogs(t *testing.T) *Catalogs {
	t.Helper()
	c, err := Load(filepath.Join("..", "..", "..", "configs"))
	require.NoError(t, err)
	return c
}

func TestLoad_RepoConfigs(t *testing.T) {
	c := loadRepoCatalogs(t)

	assert.Len(t, c.Recipes.List, 19)
	assert.Len(t, c.Materials.List, 16)
	assert.Len(t, c.Bots.Names, 5)
	assert.NotEmpty(t, c.Recipes.Digest)

	r, ok := c.Recipe("Bone Hairpin")
	require.True(t, ok)
	assert.Equal(t, RecipeDef{Name: "Bone Hairpin", Price: 100, Tier: 5, Material: "Bone Chip", Qty: 1}, r)

	p, ok := c.BasePrice("Titanictus Shell")
	require.True(t, ok)
	assert.Equal(t, int64(25000), p)

	assert.True(t, c.IsBot("GilBuyer"))
	assert.False(t, c.IsBot("alice"))
}

func TestLoad_EveryRecipeMaterialIsListable(t *testing.T) {
	c := loadRepoCatalogs(t)
	for _, r := range c.Recipes.List {
		_, ok := c.BasePrice(r.Material)
		assert.True(t, ok, "recipe %s material %s", r.Name, r.Material)
	}
}

func TestLoad_RejectsUnlistableMaterial(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("materials.json", `[{"name":"Bone Chip","base_price":100}]`)
	write("recipes.json", `[{"name":"Odd Thing","price":10,"tier":5,"material":"Unobtainium","qty":1}]`)
	write("bots.json", `["Bot"]`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unobtainium")
}

func TestLoad_RejectsTierOutOfRange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "materials.json"), []byte(`[{"name":"Bone Chip","base_price":100}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipes.json"), []byte(`[{"name":"X","price":10,"tier":9,"material":"Bone Chip","qty":1}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bots.json"), []byte(`["Bot"]`), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestSuggest(t *testing.T) {
	c := loadRepoCatalogs(t)
	assert.Equal(t, "Bone Hairpin", c.Suggest("bone hairpn"))
	assert.Equal(t, "", c.Suggest("Excalibur"))
}

func TestHQNameRoundTrip(t *testing.T) {
	hq := HQName("Bone Ring")
	assert.Equal(t, "HQ Bone Ring (+1)", hq)

	base, isHQ := BaseItem(hq)
	assert.True(t, isHQ)
	assert.Equal(t, "Bone Ring", base)

	base, isHQ = BaseItem("Bone Ring")
	assert.False(t, isHQ)
	assert.Equal(t, "Bone Ring", base)
}

func TestSortedRecipes_EasiestFirst(t *testing.T) {
	c := loadRepoCatalogs(t)
	rs := c.SortedRecipes()
	require.NotEmpty(t, rs)
	assert.Equal(t, 5, rs[0].Tier)
	assert.Equal(t, 0, rs[len(rs)-1].Tier)
}

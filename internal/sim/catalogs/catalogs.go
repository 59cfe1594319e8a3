package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// MaxTier is the easiest recipe tier; 0 is the rarest.
const MaxTier = 5

const (
	hqPrefix = "HQ "
	hqSuffix = " (+1)"
)

type Catalogs struct {
	Recipes   RecipeCatalog
	Materials MaterialCatalog
	Bots      BotCatalog
}

type RecipeCatalog struct {
	List   []RecipeDef
	ByName map[string]RecipeDef
	Digest string
}

type RecipeDef struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Tier     int    `json:"tier"`
	Material string `json:"material"`
	Qty      int    `json:"qty"`
}

type MaterialCatalog struct {
	List   []MaterialDef
	ByName map[string]MaterialDef
	Digest string
}

type MaterialDef struct {
	Name      string `json:"name"`
	BasePrice int64  `json:"base_price"`
}

type BotCatalog struct {
	Names  []string
	set    map[string]struct{}
	Digest string
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadMaterials(filepath.Join(configDir, "materials.json"), &c.Materials); err != nil {
		return nil, err
	}
	if err := loadRecipes(filepath.Join(configDir, "recipes.json"), &c.Recipes); err != nil {
		return nil, err
	}
	if err := loadBots(filepath.Join(configDir, "bots.json"), &c.Bots); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadMaterials(path string, out *MaterialCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []MaterialDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("materials.json: %w", err)
	}
	out.List = defs
	out.ByName = make(map[string]MaterialDef, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("materials.json: empty name")
		}
		if d.BasePrice <= 0 {
			return fmt.Errorf("materials.json: %s: base_price must be > 0", d.Name)
		}
		if _, dup := out.ByName[d.Name]; dup {
			return fmt.Errorf("materials.json: duplicate %s", d.Name)
		}
		out.ByName[d.Name] = d
	}
	return nil
}

func loadRecipes(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []RecipeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	out.List = defs
	out.ByName = make(map[string]RecipeDef, len(defs))
	for _, d := range defs {
		switch {
		case d.Name == "":
			return fmt.Errorf("recipes.json: empty name")
		case d.Tier < 0 || d.Tier > MaxTier:
			return fmt.Errorf("recipes.json: %s: tier %d out of range", d.Name, d.Tier)
		case d.Price <= 0 || d.Qty <= 0:
			return fmt.Errorf("recipes.json: %s: price and qty must be > 0", d.Name)
		}
		if _, dup := out.ByName[d.Name]; dup {
			return fmt.Errorf("recipes.json: duplicate %s", d.Name)
		}
		out.ByName[d.Name] = d
	}
	return nil
}

func loadBots(path string, out *BotCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return fmt.Errorf("bots.json: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("bots.json: no bots")
	}
	out.Names = names
	out.set = make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("bots.json: empty name")
		}
		out.set[n] = struct{}{}
	}
	return nil
}

// validate checks cross-catalog invariants: every recipe material must be
// a listable material.
func (c *Catalogs) validate() error {
	for _, r := range c.Recipes.List {
		if _, ok := c.Materials.ByName[r.Material]; !ok {
			return fmt.Errorf("recipe %s: material %s is not listable", r.Name, r.Material)
		}
	}
	return nil
}

func (c *Catalogs) Recipe(name string) (RecipeDef, bool) {
	r, ok := c.Recipes.ByName[name]
	return r, ok
}

// Suggest returns the closest recipe name within a small edit distance,
// or "" when nothing is close.
func (c *Catalogs) Suggest(name string) string {
	best := ""
	bestDist := 4
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, r := range c.Recipes.List {
		d := levenshtein.ComputeDistance(needle, strings.ToLower(r.Name))
		if d < bestDist {
			best, bestDist = r.Name, d
		}
	}
	return best
}

func (c *Catalogs) BasePrice(material string) (int64, bool) {
	m, ok := c.Materials.ByName[material]
	return m.BasePrice, ok
}

func (c *Catalogs) MaterialNames() []string {
	out := make([]string, 0, len(c.Materials.List))
	for _, m := range c.Materials.List {
		out = append(out, m.Name)
	}
	return out
}

func (c *Catalogs) IsBot(name string) bool {
	_, ok := c.Bots.set[name]
	return ok
}

// SortedRecipes returns recipes ordered by tier descending (easiest first),
// then price.
func (c *Catalogs) SortedRecipes() []RecipeDef {
	out := append([]RecipeDef(nil), c.Recipes.List...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier > out[j].Tier
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// HQName is the high-quality variant of a crafted item.
func HQName(item string) string {
	return hqPrefix + item + hqSuffix
}

// BaseItem strips the high-quality marker, reporting whether it was present.
func BaseItem(item string) (string, bool) {
	if strings.HasPrefix(item, hqPrefix) && strings.HasSuffix(item, hqSuffix) && len(item) > len(hqPrefix)+len(hqSuffix) {
		return item[len(hqPrefix) : len(item)-len(hqSuffix)], true
	}
	return item, false
}

package model

import "hash/fnv"

// FactoryCategories returns the default category set seeded for every new
// account. IDs and timestamps are left blank: the seeding path assigns ids
// and the remote store stamps server time at commit.
func FactoryCategories() []Category {
	defs := []struct {
		name  string
		kind  Kind
		icon  string
		color string
	}{
		{"Food", KindExpense, "🍔", "#ef4444"},
		{"Transport", KindExpense, "🚗", "#0ea5e9"},
		{"Shopping", KindExpense, "🛍️", "#f59e0b"},
		{"Entertainment", KindExpense, "🎬", "#d946ef"},
		{"Bills", KindExpense, "💡", "#6366f1"},
		{"Salary", KindIncome, "💰", "#10b981"},
		{"Business", KindIncome, "📈", "#3b82f6"},
		{"Freelance", KindIncome, "💻", "#8b5cf6"},
	}

	cats := make([]Category, 0, len(defs))
	for _, s := range defs {
		cats = append(cats, Category{
			Name:             s.name,
			Kind:             s.kind,
			Icon:             s.icon,
			Color:            s.color,
			IsFactoryDefault: true,
		})
	}
	return cats
}

// CategoryPresetColors is the palette offered when creating custom categories.
var CategoryPresetColors = []string{
	"#10b981", "#3b82f6", "#ef4444", "#f59e0b", "#6366f1", "#0ea5e9",
	"#d946ef", "#ec4899", "#f43f5e", "#8b5cf6", "#14b8a6", "#475569",
}

// CategoryPresetIcons is the glyph palette offered when creating custom categories.
var CategoryPresetIcons = []string{
	"💰", "💻", "🍔", "🛍️", "🏠", "🚗", "🎬", "🏥", "☕", "🎁", "✈️", "🎮",
	"📚", "👗", "🥦", "🏋️", "⚡", "📱", "💳", "🛡️", "📈", "🎟️", "🍕", "🍻",
}

// Currencies lists the currency codes the settings screen offers.
var Currencies = []struct {
	Code   string
	Symbol string
}{
	{"INR", "₹"},
	{"USD", "$"},
	{"EUR", "€"},
	{"GBP", "£"},
	{"JPY", "¥"},
}

// ValidCurrency reports whether code is one of the offered currencies.
func ValidCurrency(code string) bool {
	for _, c := range Currencies {
		if c.Code == code {
			return true
		}
	}
	return false
}

// PresetColor picks a stable palette color for a category name. Used to
// fill in custom categories saved without an explicit color.
func PresetColor(name string) string {
	return CategoryPresetColors[presetIndex(name, len(CategoryPresetColors))]
}

// PresetIcon picks a stable glyph for a category name.
func PresetIcon(name string) string {
	return CategoryPresetIcons[presetIndex(name, len(CategoryPresetIcons))]
}

func presetIndex(name string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(n))
}

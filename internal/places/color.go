package places

import (
	"fmt"
	"unicode/utf16"
)

// CategoryColor pairs a built-in category with its fixed display color.
type CategoryColor struct {
	Name  string
	Color string
}

var builtinCategoryColors = []CategoryColor{
	{Name: DefaultCategory, Color: "#3ea6ff"},
	{Name: "Attractions", Color: "#ff9f43"},
	{Name: "Amusement Parks", Color: "#ff6b6b"},
	{Name: "Restaurants", Color: "#feca57"},
	{Name: "Bars", Color: "#ff9ff3"},
	{Name: "Clubs", Color: "#a29bfe"},
	{Name: "Gyms", Color: "#54a0ff"},
	{Name: "Stadiums", Color: "#00d2d3"},
	{Name: "Concert Halls", Color: "#fd79a8"},
	{Name: "Homes", Color: "#2e86de"},
	{Name: "Wishlist", Color: "#8395a7"},
	{Name: "Shabbat Dinners", Color: "#f1c40f"},
	{Name: LoneSoldierCategory, Color: "#10ac84"},
}

// Palette maps category names to display colors. The zero value falls back to
// hashed colors for every name.
type Palette struct {
	entries []CategoryColor
}

// NewPalette builds a palette from an ordered list of built-in categories.
func NewPalette(entries []CategoryColor) Palette {
	return Palette{entries: append([]CategoryColor(nil), entries...)}
}

// DefaultPalette returns the stock category table.
func DefaultPalette() Palette {
	return NewPalette(builtinCategoryColors)
}

// ColorFor returns the fixed color of a built-in category or a color derived
// deterministically from the category name.
func (p Palette) ColorFor(category string) string {
	for _, entry := range p.entries {
		if entry.Name == category {
			return entry.Color
		}
	}
	return hashColor(category)
}

// DefaultCategories lists the built-in categories offered to the user, which is
// every palette entry except the implicit default.
func (p Palette) DefaultCategories() []string {
	names := make([]string, 0, len(p.entries))
	for _, entry := range p.entries {
		if entry.Name == DefaultCategory {
			continue
		}
		names = append(names, entry.Name)
	}
	return names
}

// ColorFor derives the color of a category using the stock table.
func ColorFor(category string) string {
	return DefaultPalette().ColorFor(category)
}

// hashColor folds the UTF-16 code units of name into a wrapping 32-bit hash
// (hash*31 + unit) and renders its low 24 bits as #RRGGBB.
func hashColor(name string) string {
	var hash int32
	for _, unit := range utf16.Encode([]rune(name)) {
		hash = int32(unit) + ((hash << 5) - hash)
	}
	return fmt.Sprintf("#%06X", uint32(hash)&0x00FFFFFF)
}

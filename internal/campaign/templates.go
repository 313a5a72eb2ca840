package campaign

import "github.com/agenthands/tavern/internal/core/model"

// Level 1 sheets: max hit die plus CON for HP, SRD starting gear.
var defaultTemplates = map[string]model.CharacterSheet{
	"warrior": {
		HP: 12, MaxHP: 12, Level: 1,
		Attributes: map[string]int{"str": 16, "dex": 12, "con": 14, "int": 8, "wis": 10, "cha": 10},
		Inventory: []model.Item{
			{Name: "Longsword", Type: "weapon", Quantity: 1, Equipped: true},
			{Name: "Chain Mail", Type: "armor", Quantity: 1, Equipped: true},
			{Name: "Shield", Type: "armor", Quantity: 1, Equipped: true},
			{Name: "Handaxe", Type: "weapon", Quantity: 2},
			{Name: "Explorer's Pack", Type: "gear", Quantity: 1},
		},
	},
	"mage": {
		HP: 7, MaxHP: 7, Level: 1,
		Attributes: map[string]int{"str": 8, "dex": 14, "con": 12, "int": 16, "wis": 12, "cha": 10},
		Inventory: []model.Item{
			{Name: "Quarterstaff", Type: "weapon", Quantity: 1, Equipped: true},
			{Name: "Arcane Focus", Type: "gear", Quantity: 1, Equipped: true},
			{Name: "Scholar's Pack", Type: "gear", Quantity: 1},
			{Name: "Spellbook", Type: "gear", Quantity: 1},
			{Name: "Dagger", Type: "weapon", Quantity: 1},
		},
		SpellSlots: map[int]int{1: 2},
	},
	"rogue": {
		HP: 9, MaxHP: 9, Level: 1,
		Attributes: map[string]int{"str": 10, "dex": 16, "con": 12, "int": 14, "wis": 10, "cha": 8},
		Inventory: []model.Item{
			{Name: "Shortsword", Type: "weapon", Quantity: 1, Equipped: true},
			{Name: "Shortbow", Type: "weapon", Quantity: 1},
			{Name: "Arrows", Type: "gear", Quantity: 20},
			{Name: "Leather Armor", Type: "armor", Quantity: 1, Equipped: true},
			{Name: "Dagger", Type: "weapon", Quantity: 2},
			{Name: "Thieves' Tools", Type: "gear", Quantity: 1},
			{Name: "Burglar's Pack", Type: "gear", Quantity: 1},
		},
	},
	"cleric": {
		HP: 9, MaxHP: 9, Level: 1,
		Attributes: map[string]int{"str": 14, "dex": 10, "con": 12, "int": 8, "wis": 16, "cha": 10},
		Inventory: []model.Item{
			{Name: "Mace", Type: "weapon", Quantity: 1, Equipped: true},
			{Name: "Scale Mail", Type: "armor", Quantity: 1, Equipped: true},
			{Name: "Shield", Type: "armor", Quantity: 1, Equipped: true},
			{Name: "Holy Symbol", Type: "gear", Quantity: 1, Equipped: true},
			{Name: "Priest's Pack", Type: "gear", Quantity: 1},
			{Name: "Light Crossbow", Type: "weapon", Quantity: 1},
			{Name: "Bolts", Type: "gear", Quantity: 20},
		},
		SpellSlots: map[int]int{1: 2},
	},
}

// Classes lists the built-in class names.
func Classes() []string {
	return []string{"warrior", "mage", "rogue", "cleric"}
}

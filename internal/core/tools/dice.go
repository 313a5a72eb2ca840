package tools

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

var dicePattern = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

const maxModifier = 1000

// Roller yields a uniform integer in [0, n).
type Roller interface {
	IntN(n int) int
}

type randRoller struct{}

func (randRoller) IntN(n int) int {
	return rand.IntN(n)
}

// Roll is one parsed and rolled notation such as 2d6+3.
type Roll struct {
	Notation string
	Dice     []int
	Modifier int
	Total    int
}

func (r Roll) String() string {
	dice := make([]string, len(r.Dice))
	for i, d := range r.Dice {
		dice[i] = strconv.Itoa(d)
	}
	rolled := "[" + strings.Join(dice, ", ") + "]"
	switch {
	case r.Modifier > 0:
		return fmt.Sprintf("Rolled %s: %s + %d = %d", r.Notation, rolled, r.Modifier, r.Total)
	case r.Modifier < 0:
		return fmt.Sprintf("Rolled %s: %s - %d = %d", r.Notation, rolled, -r.Modifier, r.Total)
	default:
		return fmt.Sprintf("Rolled %s: %s = %d", r.Notation, rolled, r.Total)
	}
}

// RollDice parses NdS, NdS+M or NdS-M. N defaults to 1.
func RollDice(roller Roller, notation string) (Roll, error) {
	notation = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(notation), " ", ""))
	m := dicePattern.FindStringSubmatch(notation)
	if m == nil {
		return Roll{}, fmt.Errorf("invalid dice notation %q, use a form like 1d20, 2d6+3 or 1d8-1", notation)
	}

	count := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Roll{}, fmt.Errorf("invalid number of dice %q: %w", m[1], err)
		}
		count = n
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Roll{}, fmt.Errorf("invalid number of sides %q: %w", m[2], err)
	}
	modifier := 0
	if m[3] != "" {
		if modifier, err = strconv.Atoi(m[3]); err != nil {
			return Roll{}, fmt.Errorf("invalid modifier %q: %w", m[3], err)
		}
	}
	if count < 1 || count > 100 {
		return Roll{}, fmt.Errorf("number of dice must be between 1 and 100")
	}
	if sides < 2 || sides > 100 {
		return Roll{}, fmt.Errorf("number of sides must be between 2 and 100")
	}
	if modifier < -maxModifier || modifier > maxModifier {
		return Roll{}, fmt.Errorf("modifier must be between -%d and %d", maxModifier, maxModifier)
	}

	roll := Roll{Notation: notation, Modifier: modifier, Dice: make([]int, count)}
	for i := range roll.Dice {
		roll.Dice[i] = roller.IntN(sides) + 1
		roll.Total += roll.Dice[i]
	}
	roll.Total += modifier
	return roll, nil
}

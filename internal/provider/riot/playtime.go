package riot

// League playtime is not exposed by any Riot endpoint, so it is estimated
// from the account's summoner level. The model is deliberately crude:
// approximate the cumulative XP needed to reach the level, divide by the
// average XP a game awards, and multiply by an average game duration. The
// constants are tuning values, not verified formulas; the only guarantees
// are determinism and monotonicity in the level.
const (
	// firstLevelXP is the XP cost of going from level 1 to 2.
	firstLevelXP = 280
	// levelXPGrowth is the extra XP each subsequent level costs.
	levelXPGrowth = 100
	// averageXPPerGame is the assumed XP award for one game.
	averageXPPerGame = 204
	// averageGameMinutes is the assumed length of one game.
	averageGameMinutes = 29
)

// EstimatePlaytimeMinutes converts a summoner level into estimated total
// playtime minutes.
func EstimatePlaytimeMinutes(level int) int {
	if level <= 1 {
		return 0
	}
	steps := level - 1
	// Arithmetic series: each level-up costs firstLevelXP plus growth per
	// prior step.
	totalXP := steps*firstLevelXP + levelXPGrowth*steps*(steps-1)/2
	games := totalXP / averageXPPerGame
	return games * averageGameMinutes
}

package registry

// defaultCatalog — встроенный набор техник.
//
// Движок использует только метаданные: число шагов, стоимость, паттерн.
// Содержимое шагов принадлежит вызывающей стороне.
var defaultCatalog = []Technique{
	{
		Name: "six_hats",
		StepDescriptions: []string{
			"process overview (blue hat)",
			"facts and data (white hat)",
			"emotions and intuition (red hat)",
			"risks and caution (black hat)",
			"benefits and value (yellow hat)",
			"alternatives and creativity (green hat)",
		},
		Cost:    Cost{MemoryMB: 24, TimeMs: 9000},
		Pattern: StepPattern{Kind: PatternParallel},
	},
	{
		Name: "po",
		StepDescriptions: []string{
			"formulate a provocation",
			"suspend judgment",
			"extract movement principles",
			"develop practical ideas",
		},
		Cost:    Cost{MemoryMB: 16, TimeMs: 6000},
		Pattern: StepPattern{Kind: PatternSequential},
	},
	{
		Name: "random_entry",
		StepDescriptions: []string{
			"introduce a random stimulus",
			"generate associations",
			"connect associations to the problem",
		},
		Cost:    Cost{MemoryMB: 12, TimeMs: 4500},
		Pattern: StepPattern{Kind: PatternSequential},
	},
	{
		Name: "scamper",
		StepDescriptions: []string{
			"substitute",
			"combine",
			"adapt",
			"modify",
			"put to another use",
			"eliminate",
			"reverse",
		},
		Cost:    Cost{MemoryMB: 28, TimeMs: 10500},
		Pattern: StepPattern{Kind: PatternParallel},
	},
	{
		Name: "concept_extraction",
		StepDescriptions: []string{
			"identify a successful example",
			"extract underlying concepts",
			"abstract into patterns",
			"apply patterns to the problem",
		},
		Cost:    Cost{MemoryMB: 16, TimeMs: 6000},
		Pattern: StepPattern{Kind: PatternHybrid, Name: "extract-fanout", FanOutAfter: 2},
	},
	{
		Name: "yes_and",
		StepDescriptions: []string{
			"accept the initial idea",
			"build on it",
			"evaluate additions",
			"integrate into a solution",
		},
		Cost:    Cost{MemoryMB: 12, TimeMs: 5000},
		Pattern: StepPattern{Kind: PatternSequential},
	},
	{
		Name: "design_thinking",
		StepDescriptions: []string{
			"empathize",
			"define the problem",
			"ideate",
			"prototype",
			"test",
		},
		Cost:    Cost{MemoryMB: 32, TimeMs: 12500},
		Pattern: StepPattern{Kind: PatternSequential},
	},
	{
		Name: "triz",
		StepDescriptions: []string{
			"identify the contradiction",
			"map to inventive principles",
			"apply principles",
			"minimize and simplify",
		},
		Cost:    Cost{MemoryMB: 20, TimeMs: 7000},
		Pattern: StepPattern{Kind: PatternHybrid, Name: "contradiction-fanout", FanOutAfter: 1},
	},
	{
		Name: "disney_method",
		StepDescriptions: []string{
			"dreamer perspective",
			"realist perspective",
			"critic perspective",
		},
		Cost:    Cost{MemoryMB: 14, TimeMs: 4800},
		Pattern: StepPattern{Kind: PatternSequential},
	},
	{
		Name: "nine_windows",
		StepDescriptions: []string{
			"past sub-system",
			"past system",
			"past super-system",
			"present sub-system",
			"present system",
			"present super-system",
			"future sub-system",
			"future system",
			"future super-system",
		},
		Cost:    Cost{MemoryMB: 30, TimeMs: 11000},
		Pattern: StepPattern{Kind: PatternParallel},
	},
}

// defaultHardDeps — пары [before, after]: after стартует после before.
//
// concept_extraction применяет паттерны, которые обычно добывает
// triz-анализ; disney-критик бессмыслен без yes_and-наработок.
var defaultHardDeps = [][2]string{
	{"triz", "concept_extraction"},
	{"yes_and", "disney_method"},
}

// defaultSoftDeps — пары [before, after]: рекомендация порядка, не запрет.
var defaultSoftDeps = [][2]string{
	{"po", "random_entry"},
	{"six_hats", "scamper"},
	{"design_thinking", "yes_and"},
}

// defaultExclusions — техники, которые не стоит запускать в одной группе
// (обе тяжёлые по числу ролей/перспектив, результаты сильно пересекаются).
var defaultExclusions = [][2]string{
	{"six_hats", "disney_method"},
	{"nine_windows", "scamper"},
}

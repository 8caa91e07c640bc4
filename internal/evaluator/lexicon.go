package evaluator

// cue is what one lexicon word contributes.
type cue struct {
	atoms    []string
	weight   float64
	polarity float64
}

type lexicon map[string]cue

var intensifiers = map[string]bool{
	"very": true, "so": true, "really": true, "extremely": true, "totally": true,
	"completely": true, "incredibly": true, "deeply": true, "always": true,
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "can't": true,
	"cannot": true, "isn't": true, "won't": true, "didn't": true, "nothing": true,
}

// lexScore is the result of scanning occasions against a lexicon.
type lexScore struct {
	hits     float64
	polarity float64
	intense  float64
	atoms    map[string]float64
}

// scan scores occasions against lex. An intensifier directly before a cue
// boosts it by half; a negation within the two preceding tokens flips its
// polarity.
func scan(occasions []Occasion, lex lexicon) lexScore {
	res := lexScore{atoms: make(map[string]float64)}
	var polSum, polWeight float64
	for i, o := range occasions {
		c, ok := lex[o.Lower]
		if !ok {
			continue
		}
		w := c.weight
		if i > 0 && intensifiers[occasions[i-1].Lower] {
			w *= 1.5
			res.intense++
		}
		pol := c.polarity
		for j := i - 1; j >= 0 && j >= i-2; j-- {
			if negations[occasions[j].Lower] {
				pol = -pol
				break
			}
		}
		if o.TrailingPunct == '!' {
			res.intense++
		}
		res.hits += w
		polSum += pol * w
		polWeight += w
		for _, a := range c.atoms {
			res.atoms[a] += w
		}
	}
	if polWeight > 0 {
		res.polarity = polSum / polWeight
	}
	for a, v := range res.atoms {
		res.atoms[a] = saturate(v)
	}
	return res
}

// signal turns a scan into a cycle-0 signal.
func (l lexScore) signal(k Kind, occasions []Occasion) Signal {
	act := saturate(l.hits)
	return Signal{
		Kind:       k,
		Activation: act,
		Intensity:  act * (1 + 0.25*l.intense),
		Polarity:   l.polarity,
		Confidence: baseConfidence(occasions),
		Atoms:      l.atoms,
	}
}

func cu(weight, polarity float64, atoms ...string) cue {
	return cue{atoms: atoms, weight: weight, polarity: polarity}
}

var (
	listeningLexicon = lexicon{
		"listen":     cu(1, 0.3, "being_heard"),
		"listening":  cu(1, 0.3, "being_heard"),
		"heard":      cu(1, 0.3, "being_heard"),
		"hear":       cu(0.8, 0.2, "being_heard"),
		"understand": cu(0.9, 0.3, "being_heard", "connection"),
		"talk":       cu(0.6, 0.1, "connection"),
		"tell":       cu(0.6, 0.1, "connection"),
		"told":       cu(0.6, 0, "connection"),
		"said":       cu(0.4, 0, "connection"),
		"ignored":    cu(1, -0.6, "being_heard", "loneliness"),
		"dismissed":  cu(1, -0.6, "being_heard"),
		"feel":       cu(0.5, 0, "being_heard"),
		"feeling":    cu(0.5, 0, "being_heard"),
		"felt":       cu(0.5, 0, "being_heard"),
		"alone":      cu(0.7, -0.5, "loneliness"),
	}

	empathyLexicon = lexicon{
		"sad":         cu(1, -0.7, "grief"),
		"grief":       cu(1.2, -0.8, "grief"),
		"grieving":    cu(1.2, -0.8, "grief"),
		"miss":        cu(0.9, -0.5, "grief", "attachment"),
		"lost":        cu(0.9, -0.6, "grief"),
		"died":        cu(1.2, -0.8, "grief"),
		"cry":         cu(1, -0.6, "grief"),
		"crying":      cu(1, -0.6, "grief"),
		"hurt":        cu(1, -0.7, "grief", "threat"),
		"lonely":      cu(1, -0.7, "loneliness"),
		"scared":      cu(1, -0.7, "fear"),
		"afraid":      cu(1, -0.7, "fear"),
		"anxious":     cu(1, -0.6, "fear"),
		"worried":     cu(0.8, -0.5, "fear"),
		"overwhelmed": cu(1.1, -0.7, "overwhelm"),
		"ashamed":     cu(1.1, -0.8, "shame"),
		"shame":       cu(1.1, -0.8, "shame"),
		"guilty":      cu(0.9, -0.6, "shame"),
		"grateful":    cu(0.8, 0.8, "warmth"),
		"love":        cu(0.7, 0.7, "warmth", "attachment"),
		"happy":       cu(0.7, 0.8, "warmth"),
	}

	wisdomLexicon = lexicon{
		"always":   cu(0.7, -0.1, "recurrence"),
		"again":    cu(0.9, -0.2, "recurrence"),
		"keep":     cu(0.6, -0.1, "recurrence"),
		"pattern":  cu(1.2, 0, "recurrence", "insight"),
		"every":    cu(0.5, 0, "recurrence"),
		"why":      cu(0.8, -0.1, "meaning"),
		"realize":  cu(1, 0.4, "insight"),
		"realized": cu(1, 0.4, "insight"),
		"learned":  cu(1, 0.5, "insight"),
		"maybe":    cu(0.4, 0.1, "meaning"),
		"means":    cu(0.6, 0.1, "meaning"),
		"meaning":  cu(1, 0.2, "meaning"),
		"choice":   cu(0.7, 0.3, "agency"),
		"decide":   cu(0.7, 0.3, "agency"),
		"stuck":    cu(0.9, -0.5, "recurrence", "overwhelm"),
	}

	authenticityLexicon = lexicon{
		"honestly":   cu(1, 0.3, "truth"),
		"honest":     cu(1, 0.3, "truth"),
		"truth":      cu(1, 0.3, "truth"),
		"actually":   cu(0.6, 0.1, "truth"),
		"admit":      cu(1, 0.2, "truth", "shame"),
		"real":       cu(0.6, 0.2, "truth"),
		"pretend":    cu(1, -0.5, "masking"),
		"pretending": cu(1, -0.5, "masking"),
		"fake":       cu(1, -0.5, "masking"),
		"mask":       cu(1, -0.4, "masking"),
		"fine":       cu(0.5, -0.2, "masking"),
		"smile":      cu(0.4, -0.1, "masking"),
		"myself":     cu(0.5, 0.1, "truth"),
	}

	presenceLexicon = lexicon{
		"body":      cu(0.9, 0, "somatic"),
		"chest":     cu(1, -0.4, "somatic", "threat"),
		"breath":    cu(1, 0, "somatic"),
		"breathe":   cu(1, 0, "somatic"),
		"breathing": cu(1, 0, "somatic"),
		"heart":     cu(0.7, 0, "somatic"),
		"stomach":   cu(0.9, -0.3, "somatic"),
		"tight":     cu(0.9, -0.4, "somatic", "threat"),
		"shaking":   cu(1, -0.6, "somatic", "fear"),
		"tired":     cu(0.9, -0.4, "fatigue"),
		"exhausted": cu(1.1, -0.6, "fatigue", "overwhelm"),
		"sleep":     cu(0.7, -0.2, "fatigue"),
		"heavy":     cu(0.9, -0.5, "somatic", "grief"),
		"numb":      cu(1, -0.6, "shutdown"),
		"here":      cu(0.3, 0.2, "grounding"),
		"now":       cu(0.3, 0.1, "grounding"),
	}

	bondLexicon = lexicon{
		"mom":          cu(0.7, 0, "attachment"),
		"mother":       cu(0.7, 0, "attachment"),
		"dad":          cu(0.7, 0, "attachment"),
		"father":       cu(0.7, 0, "attachment"),
		"partner":      cu(0.7, 0, "attachment"),
		"relationship": cu(0.9, 0, "attachment"),
		"trust":        cu(0.9, 0.3, "attachment", "safety"),
		"abandon":      cu(1.2, -0.8, "abandonment"),
		"abandoned":    cu(1.2, -0.8, "abandonment"),
		"leave":        cu(0.8, -0.4, "abandonment"),
		"left":         cu(0.7, -0.4, "abandonment"),
		"rejected":     cu(1.1, -0.7, "abandonment", "shame"),
		"need":         cu(0.5, 0, "attachment"),
		"alone":        cu(0.8, -0.5, "abandonment", "loneliness"),
		"protect":      cu(0.8, 0.1, "parts"),
		"critic":       cu(1, -0.5, "parts"),
		"younger":      cu(0.8, 0, "parts"),
		"little":       cu(0.4, 0, "parts"),
	}

	safetyLexicon = lexicon{
		"safe":      cu(1, 0.8, "safety"),
		"calm":      cu(1, 0.8, "safety"),
		"okay":      cu(0.6, 0.5, "safety"),
		"grounded":  cu(1, 0.8, "safety", "grounding"),
		"peace":     cu(1, 0.8, "safety"),
		"unsafe":    cu(1.2, -0.9, "threat"),
		"danger":    cu(1.2, -0.9, "threat"),
		"dangerous": cu(1.2, -0.9, "threat"),
		"threat":    cu(1.2, -0.9, "threat"),
		"attacked":  cu(1.2, -0.9, "threat"),
		"yelled":    cu(1, -0.7, "threat"),
		"hit":       cu(1, -0.8, "threat"),
		"panic":     cu(1.1, -0.8, "threat", "fear"),
		"scared":    cu(0.9, -0.7, "fear", "threat"),
		"hurt":      cu(0.9, -0.7, "threat"),
	}

	urgencyLexicon = lexicon{
		"now":         cu(0.5, -0.2, "urgency"),
		"urgent":      cu(1.2, -0.5, "urgency"),
		"immediately": cu(1.1, -0.5, "urgency"),
		"asap":        cu(1.1, -0.5, "urgency"),
		"emergency":   cu(1.5, -0.8, "urgency", "crisis"),
		"help":        cu(0.9, -0.4, "urgency"),
		"crisis":      cu(1.5, -0.8, "crisis"),
		"hurry":       cu(1, -0.4, "urgency"),
		"deadline":    cu(0.9, -0.3, "urgency", "overwhelm"),
		"tonight":     cu(0.6, -0.2, "urgency"),
		"today":       cu(0.4, -0.1, "urgency"),
		"suicide":     cu(2, -1, "crisis"),
		"kill":        cu(1.5, -1, "crisis", "threat"),
		"die":         cu(1.2, -0.9, "crisis"),
	}

	// autonomic lexicons by state.
	sympatheticLexicon = lexicon{
		"panic":    cu(1.2, -0.8, "activation"),
		"racing":   cu(1, -0.6, "activation"),
		"anxious":  cu(1, -0.6, "activation"),
		"angry":    cu(1, -0.6, "activation"),
		"furious":  cu(1.2, -0.8, "activation"),
		"wired":    cu(0.9, -0.4, "activation"),
		"restless": cu(0.9, -0.4, "activation"),
		"tense":    cu(0.9, -0.5, "activation"),
		"scared":   cu(0.9, -0.6, "activation", "fear"),
	}
	dorsalLexicon = lexicon{
		"numb":         cu(1.2, -0.7, "shutdown"),
		"empty":        cu(1.1, -0.7, "shutdown"),
		"frozen":       cu(1.1, -0.7, "shutdown"),
		"shutdown":     cu(1.2, -0.7, "shutdown"),
		"hopeless":     cu(1.2, -0.9, "shutdown", "grief"),
		"pointless":    cu(1, -0.8, "shutdown"),
		"nothing":      cu(0.5, -0.4, "shutdown"),
		"exhausted":    cu(0.8, -0.5, "shutdown", "fatigue"),
		"disconnected": cu(1, -0.6, "shutdown"),
	}
	ventralLexicon = lexicon{
		"calm":      cu(1, 0.8, "connection"),
		"connected": cu(1.1, 0.8, "connection"),
		"safe":      cu(1, 0.8, "connection", "safety"),
		"grateful":  cu(0.9, 0.8, "connection", "warmth"),
		"curious":   cu(0.9, 0.6, "connection"),
		"happy":     cu(0.8, 0.8, "connection", "warmth"),
		"relaxed":   cu(1, 0.8, "connection"),
		"hopeful":   cu(0.9, 0.7, "connection"),
	}
)

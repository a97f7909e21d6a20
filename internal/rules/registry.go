package rules

import "github.com/opensource-finance/medaudit/internal/domain"

// DefaultRules returns the built-in rule families.
func DefaultRules() []Rule {
	return []Rule{
		NewICD10FormatRule(),
		NewCPTValidityRule(),
		NewDuplicateRule(),
		NewDocumentationRule(),
		NewDxPairRule(),
		NewMedicalNecessityRule(),
		NewProcedureFrequencyRule(),
		NewPatientFrequencyRule(),
		NewAmountLimitRule(),
	}
}

// NewDefaultChain builds a chain of the built-in rules plus any extras.
func NewDefaultChain(extra ...Rule) *Chain {
	return NewChain(append(DefaultRules(), extra...)...)
}

// LoadExpressions compiles the enabled configs and swaps them in for the
// chain's current expression rules. On a compile error the chain is left
// unchanged.
func LoadExpressions(chain *Chain, compiler *Compiler, configs []*domain.RuleConfig) (int, error) {
	compiled, err := compiler.CompileAll(configs)
	if err != nil {
		return 0, err
	}
	chain.Replace(IsExpression, compiled...)
	return len(compiled), nil
}

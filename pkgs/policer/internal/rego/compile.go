package rego

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// RuntimeEnvPrefix is the prefix of the environment variables
// exposed to policies through opa.runtime().env, without the prefix.
const RuntimeEnvPrefix = "REGO_POLICY_RUNTIME_"

type printer struct{}

func (p printer) Print(ctx print.Context, s string) error {

	row := 0
	if ctx.Location != nil {
		row = ctx.Location.Row
	}

	slog.Debug("Rego print", "msg", s, "row", row)

	return nil
}

// compile parses and compiles the given policy. The policy
// must be in the main package.
func compile(policy string) (*ast.Compiler, error) {

	module, err := ast.ParseModuleWithOpts(
		"policy.rego",
		policy,
		ast.ParserOptions{
			Capabilities: ast.CapabilitiesForThisVersion(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse rego module: %w", err)
	}

	if pkg := module.Package.Path.String(); pkg != "data.main" {
		return nil, fmt.Errorf("invalid rego package '%s': must be 'main'", strings.TrimPrefix(pkg, "data."))
	}

	compiler := ast.NewCompiler().WithEnablePrintStatements(true)
	compiler.Compile(map[string]*ast.Module{"policy.rego": module})

	if compiler.Failed() {
		return nil, fmt.Errorf("unable to compile rego module: %w", compiler.Errors)
	}

	return compiler, nil
}

// runtimeTerm returns the term used as opa.runtime().
func runtimeTerm() *ast.Term {

	env := ast.NewObject()

	for _, s := range os.Environ() {
		k, v, ok := strings.Cut(s, "=")
		if !ok || !strings.HasPrefix(k, RuntimeEnvPrefix) {
			continue
		}
		env.Insert(ast.StringTerm(strings.TrimPrefix(k, RuntimeEnvPrefix)), ast.StringTerm(v))
	}

	obj := ast.NewObject()
	obj.Insert(ast.StringTerm("env"), ast.NewTerm(env))

	return ast.NewTerm(obj)
}

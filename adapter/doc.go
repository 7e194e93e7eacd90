// Package adapter provides integration adapters that bridge capiflow's
// node contracts with external tool and model ecosystems.
//
//   - OpenAIAdapter narrows an llms.Model to the plain
//     Generate/GenerateWithConfig/GenerateWithSystem calls nodes use.
//   - OpenAIClient implements llms.Model over an OpenAI-compatible
//     endpoint via github.com/sashabaranov/go-openai, for deployments
//     pointing at a proxy or local inference server.
//   - goskills (adapter/goskills): wraps github.com/smallnest/goskills
//     skill packages as langchaingo tools.Tool values, used by
//     nodes/agents.NewCapiDesktop to expose sandboxed shell and file
//     operations to the ReAct tool loop.
package adapter

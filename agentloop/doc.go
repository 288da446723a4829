// Package agentloop drives a model through a fixed set of typed tools.
//
// Host functions are registered on a ToolRegistry with Register, which
// derives a JSON Schema from the argument type and wraps the function so it
// can be called with the raw argument text a model returns. A Session owns
// the transcript and runs the tool-use loop: it sends the transcript and the
// registry's definitions to the model, dispatches every tool call in the
// reply, and stops at the first reply without one.
//
// Converge sits on top of a Session. It asks the model to analyze a source
// project, then to write the destination project, and feeds the destination's
// build-check output back until the check is clean or a turn changes
// nothing.
//
//	src := agentloop.NewProject("./legacy", logger)
//	dst := agentloop.NewProject("./port", logger)
//	reg := agentloop.NewToolRegistry()
//	if err := agentloop.RegisterProjectTools(reg, src, dst); err != nil {
//	    return err
//	}
//	prompts := agentloop.DefaultPrompts().ForLanguage("Go")
//	session := agentloop.NewSession(client, reg, agentloop.BuildSystemPrompt(prompts, src, dst, model), &cfg)
//	defer session.Close()
//
//	checker := agentloop.NewCommandBuildChecker(dst.Root(), "go build ./...", time.Minute, logger)
//	result, err := agentloop.Converge(ctx, session, dst, checker,
//	    agentloop.ConvergenceConfigFromPrompts(prompts, 10, logger))
package agentloop

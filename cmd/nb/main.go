// Command nb loads a project's root build script and emits a Ninja
// manifest describing the resulting build graph.
package main

import (
	"os"
	"path"

	"github.com/nbscript/nb/core"
	"github.com/nbscript/nb/internal/script"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

var log = logrus.New()

func main() {
	var (
		root       string
		scriptName string
		output     string
		verbose    bool
	)

	pflag.StringVar(&root, "root", "", "directory to start evaluation from (default: current directory)")
	pflag.StringVar(&scriptName, "script", core.ScriptName, "filename of the root build script")
	pflag.StringVarP(&output, "output", "o", "build.ninja", "path to write the generated Ninja manifest")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.Parse()

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(root, scriptName, output); err != nil {
		log.WithError(err).Error("nb failed")
		os.Exit(1)
	}
}

func run(root, scriptName, output string) error {
	fs := afero.NewOsFs()

	loader := &script.Loader{Fs: fs}
	ctx, err := core.NewContext(fs, root, loader)
	if err != nil {
		return err
	}
	ctx.SetScriptName(scriptName)

	log.WithFields(logrus.Fields{
		"root":   ctx.Root(),
		"cwd":    ctx.Cwd(),
		"script": scriptName,
	}).Debug("context initialized")

	rootScript := core.Path(path.Join(string(ctx.Root()), scriptName))
	if !ctx.Paths.Exists(rootScript) {
		log.WithField("path", rootScript).Fatal("no root build script found")
	}
	if err := ctx.LoadScript(rootScript); err != nil {
		return err
	}

	f, err := fs.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := ctx.Emit(f); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"output":  output,
		"rules":   len(ctx.Rules.All()),
		"edges":   len(ctx.Ledger.Edges()),
		"hits":    ctx.Hits(),
		"misses":  ctx.Misses(),
		"targets": ctx.Targets().Len(),
	}).Info("manifest written")
	return nil
}

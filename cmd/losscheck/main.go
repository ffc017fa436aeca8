/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// losscheck evaluates the contrastive and partial-label losses on synthetic batches, on the selected backend,
// and runs a small pseudo-labeling feedback loop of ConLoss through the confidence store.
//
// Example:
//
//	losscheck -backend=xla:cpu -batch=64 -classes=10 -set="conloss_temperature=0.2;confidence_momentum=0.9"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/contrastive/ml/train/confidence"
	"github.com/gomlx/contrastive/ml/train/losses"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph/nanlogger"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagBackend = flag.String("backend", "", "Backend configuration, e.g. \"xla:cpu\" or \"go\". "+
		"If empty, it uses $GOMLX_BACKEND or the default backend.")
	flagNumSamples = flag.Int("samples", 256, "Number of synthetic samples in the confidence store.")
	flagBatchSize  = flag.Int("batch", 32, "Batch size.")
	flagNumClasses = flag.Int("classes", 10, "Number of classes.")
	flagNumViews   = flag.Int("views", 2, "Number of augmented views per sample, used by ConLoss.")
	flagEmbedding  = flag.Int("embedding", 16, "Embedding dimension.")
	flagQueueSize  = flag.Int("queue", 64, "Size of the queue of negatives for the SupCon queue mode.")
	flagPartial    = flag.Float64("partial_rate", 0.3, "Probability of each wrong class being a candidate.")
	flagEpochs     = flag.Int("epochs", 5, "Number of epochs of the ConLoss feedback loop. Set to 0 to skip it.")
	flagSeed       = flag.Int64("seed", 42, "Random seed for the synthetic data.")
	flagSnapshot   = flag.String("snapshot", "", "If set, the confidence store is saved to this file at the end.")
	flagNanLogger  = flag.Bool("nanlogger", false, "Report the first NaN/Inf in the log-probabilities of InfoNCE2, "+
		"with the stack-trace of where it was created.")
)

func main() {
	klog.InitFlags(nil)
	ctx := context.New()
	losses.SetDefaultParams(ctx)
	ctx.SetParam(confidence.ParamMomentum, 0.0)
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	klog.V(1).Infof("Parameters set from the command line: %v", paramsSet)
	if err := validateFlags(); err != nil {
		klog.Errorf("Invalid flags: %v", err)
		os.Exit(1)
	}
	var nanLogger *nanlogger.NanLogger
	if *flagNanLogger {
		nanLogger = nanlogger.New()
		ctx.SetParam(losses.ParamNanLogger, nanLogger)
	}

	if *flagBackend != "" {
		backends.DefaultConfig = *flagBackend
	}
	backend := backends.MustNew()
	defer backend.Finalize()
	klog.V(1).Infof("Backend: %s", backend.Description())
	ctx.RngStateFromSeed(*flagSeed)

	fmt.Println(titleStyle.Render("Hyperparameters"))
	fmt.Println(paramsTable(ctx).Render())

	data := newSyntheticData(backend, ctx)
	fmt.Println(titleStyle.Render("Synthetic data"))
	fmt.Println(dataTable(data).Render())

	fmt.Println(titleStyle.Render("Losses"))
	table, err := lossesTable(backend, ctx, data, nanLogger)
	if err != nil {
		klog.Exitf("Failed to evaluate losses: %+v", err)
	}
	fmt.Println(table.Render())

	if *flagEpochs > 0 {
		store := must.M1(confidence.New(ctx, data.candidateSet.UniformConfidence()))
		fmt.Println(titleStyle.Render("ConLoss feedback"))
		fmt.Println(feedback(backend, ctx, data, store).Render())
		if *flagSnapshot != "" {
			if err := store.SaveFile(*flagSnapshot); err != nil {
				klog.Exitf("Failed to save snapshot: %+v", err)
			}
			info := must.M1(os.Stat(*flagSnapshot))
			fmt.Printf("Confidence snapshot saved to %q (%s)\n", *flagSnapshot, humanBytes(info.Size()))
		}
	}
}

func validateFlags() error {
	switch {
	case *flagBatchSize <= 0 || *flagBatchSize > *flagNumSamples:
		return errors.Errorf("-batch=%d must be in the range [1, -samples=%d]", *flagBatchSize, *flagNumSamples)
	case *flagNumClasses < 2:
		return errors.Errorf("-classes=%d must be at least 2", *flagNumClasses)
	case *flagNumViews < 1:
		return errors.Errorf("-views=%d must be at least 1", *flagNumViews)
	case *flagEmbedding < 1:
		return errors.Errorf("-embedding=%d must be at least 1", *flagEmbedding)
	case *flagQueueSize < 0:
		return errors.Errorf("-queue=%d must not be negative", *flagQueueSize)
	case *flagPartial < 0 || *flagPartial > 1:
		return errors.Errorf("-partial_rate=%g must be in the range [0, 1]", *flagPartial)
	}
	return nil
}

package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petrijr/orderflow/internal/orders"
	"github.com/petrijr/orderflow/pkg/api"
)

var builtinTasks = []string{
	orders.TaskStoreItem,
	orders.TaskStoreObject,
	orders.TaskReadItem,
	orders.TaskReadObject,
}

func newValidateCommand() *cobra.Command {
	var anyTask bool
	cmd := &cobra.Command{
		Use:   "validate <definition.yaml>",
		Short: "Check a workflow definition file",
		Long:  "Parse and validate a workflow definition. Unless --any-task is set, every Task state must use one of the built-in order executors.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := api.LoadDefinitionYAML(args[0])
			if err != nil {
				return err
			}
			if !anyTask {
				if err := checkTasks(def); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d states, start at %s, timeout %s)\n",
				def.Name, len(def.States), def.StartAt, timeoutText(def))
			return nil
		},
	}
	cmd.Flags().BoolVar(&anyTask, "any-task", false, "accept task names without a built-in executor")
	return cmd
}

func checkTasks(def api.Definition) error {
	var unknown []string
	for _, st := range def.States {
		if st.Kind == api.KindTask && !slices.Contains(builtinTasks, st.Task) && !slices.Contains(unknown, st.Task) {
			unknown = append(unknown, st.Task)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: no executor for task %s", api.ErrMalformedDefinition, strings.Join(unknown, ", "))
	}
	return nil
}

func timeoutText(def api.Definition) string {
	if def.Timeout == 0 {
		return "default"
	}
	return def.Timeout.String()
}

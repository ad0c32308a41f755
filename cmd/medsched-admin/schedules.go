package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-medsched/internal/clinical"
	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
	"github.com/drfirst/go-medsched/internal/infrastructure/redpanda"
	"github.com/drfirst/go-medsched/internal/scheduling"
)

func reconcileCmd(e *env) *cobra.Command {
	var recordID, patientID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one clinical record now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := e.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := postgres.NewScheduleStore(pool, postgres.TopicScheduleEvents, e.logger)
			engine := scheduling.NewEngine(store, postgres.NewRecordSource(pool), nil, nil, e.logger)
			sum, err := engine.Reconcile(ctx, scheduling.Request{
				RecordID:  recordID,
				PatientID: patientID,
				Trigger:   scheduling.TriggerManual,
			})
			if err != nil {
				return err
			}

			state := "updated"
			if sum.Created {
				state = "created"
			}
			fmt.Printf("schedule %s %s for record %s\n", sum.ScheduleID, ok(state), sum.RecordID)
			printDrugs("started", sum.Started, ok)
			printDrugs("modified", sum.Modified, warn)
			printDrugs("restarted", sum.Restarted, warn)
			printDrugs("stopped", sum.Stopped, bad)
			printDrugs("unchanged", sum.Unchanged, fmt.Sprint)
			for _, w := range sum.Warnings {
				fmt.Printf("  %s %s[%d]: %s\n", warn("SKIPPED"), w.Section, w.Index, w.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recordID, "record", "", "clinical record id")
	cmd.Flags().StringVar(&patientID, "patient", "", "expected owner of the record")
	_ = cmd.MarkFlagRequired("record")
	return cmd
}

func printDrugs(label string, drugs []string, paint func(a ...interface{}) string) {
	for _, d := range drugs {
		fmt.Printf("  %-10s %s\n", paint(label), d)
	}
}

func verifyCmd(e *env) *cobra.Command {
	var scheduleID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain of every medicine history in a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := e.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := postgres.NewScheduleStore(pool, postgres.TopicScheduleEvents, e.logger)
			v, err := scheduling.NewQueries(store, e.cfg.SummaryMaxRecords).VerifyHistory(ctx, scheduleID)
			if err != nil {
				return err
			}
			for _, med := range v.Medicines {
				if med.Valid {
					fmt.Printf("  %s %s (%d events)\n", ok("OK     "), med.DrugName, med.Events)
					continue
				}
				fmt.Printf("  %s %s: %s\n", bad("BROKEN "), med.DrugName, med.Error)
			}
			if !v.Valid {
				return fmt.Errorf("schedule %s failed verification", scheduleID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule id")
	_ = cmd.MarkFlagRequired("schedule")
	return cmd
}

func recordsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage clinical records",
	}

	var file string
	var announce bool
	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Store a clinical record from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var rec clinical.Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", file, err)
			}
			if err := rec.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := e.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			revision, err := postgres.NewRecordSource(pool).Put(ctx, &rec)
			if err != nil {
				return err
			}
			fmt.Printf("record %s stored at revision %d\n", rec.ID, revision)
			if !announce {
				return nil
			}

			kind := scheduling.TriggerUpdated
			if revision == 1 {
				kind = scheduling.TriggerCreated
			}
			sig, err := json.Marshal(scheduling.RecordSignal{
				RecordID:  rec.ID,
				Kind:      string(kind),
				Revision:  revision,
				PatientID: rec.PatientID,
			})
			if err != nil {
				return err
			}

			pc := redpanda.DefaultProducerConfig()
			pc.Brokers = e.cfg.KafkaBrokers
			producer, err := redpanda.NewProducer(pc, e.logger)
			if err != nil {
				return err
			}
			defer producer.Close()
			if err := producer.Publish(ctx, redpanda.TopicRecordEvents, rec.ID, sig); err != nil {
				return err
			}
			fmt.Printf("  %s %s signal on %s\n", ok("SENT"), kind, redpanda.TopicRecordEvents)
			return nil
		},
	}
	putCmd.Flags().StringVar(&file, "file", "", "record JSON file")
	putCmd.Flags().BoolVar(&announce, "signal", false, "publish a record signal after storing")
	_ = putCmd.MarkFlagRequired("file")

	cmd.AddCommand(putCmd)
	return cmd
}

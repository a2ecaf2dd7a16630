package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"catena/internal/app"
	"catena/internal/db"
	"catena/internal/domain"
	"catena/internal/engine"
	"catena/internal/repo"
	"catena/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "catena",
	Short: "Catena CLI",
	Long: `Catena versions collections of metadata resources with a draft/publish cycle.
A collection always has exactly one mutable draft; edits are staged as
create/update/clone/delete actions against the last published version.
Publishing freezes the draft under a calendar version name (yyyy.ww.minor)
and seeds the next draft by cloning the published content.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CATENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	rootCmd.PersistentFlags().StringP("collection", "c", "", "collection id or identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("collection", rootCmd.PersistentFlags().Lookup("collection"))
}

func registerCommands() {
	rootCmd.AddCommand(workspaceCmd())
	rootCmd.AddCommand(collectionCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(relationCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func workspaceCmd() *cobra.Command {
	ws := &cobra.Command{Use: "workspace", Short: "Manage the workspace"}
	ws.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize workspace database and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, cfg, err := app.Setup(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Printf("Workspace %s ready (%s)\n", cfg.Workspace.ID, db.Path(viper.GetString("workspace")))
			return nil
		},
	})
	return ws
}

func collectionCmd() *cobra.Command {
	col := &cobra.Command{Use: "collection", Short: "Manage collections"}
	col.AddCommand(collectionCreateCmd())
	col.AddCommand(collectionListCmd())
	col.AddCommand(collectionShowCmd())
	col.AddCommand(collectionUpdateCmd())
	col.AddCommand(collectionDeleteCmd())
	return col
}

func collectionCreateCmd() *cobra.Command {
	var title, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a collection with an empty draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCollection(ctx, engine.CollectionCreateOptions{
					Title:       title,
					Description: desc,
					UserID:      viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "collection title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func collectionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCollections(ctx, e.Config.Workspace.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Identifier", "Title", "Updated"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Identifier, c.Title, c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func collectionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func collectionUpdateCmd() *cobra.Command {
	var title, desc string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				opts := engine.CollectionUpdateOptions{
					CollectionID: c.ID,
					UserID:       viper.GetString("user-id"),
				}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				updated, err := e.UpdateCollection(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "collection title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func collectionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a collection and all its versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				return e.Repo.DeleteCollection(ctx, c.ID)
			})
		},
	}
	return cmd
}

func draftCmd() *cobra.Command {
	draft := &cobra.Command{Use: "draft", Short: "Work with the current draft"}
	draft.AddCommand(draftEnsureCmd())
	draft.AddCommand(draftShowCmd())
	draft.AddCommand(draftValidateCmd())
	return draft
}

func draftEnsureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Get or create the draft version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				v, err := e.EnsureDraft(ctx, c.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func draftShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the draft's resources and their pending actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				draft, err := e.Repo.DraftVersion(ctx, c.ID)
				if err != nil {
					return err
				}
				resources, err := e.Repo.ListResourcesByVersion(ctx, draft.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"version": draft, "resources": resources})
				}
				fmt.Printf("Draft %s (created %s)\n", draft.ID, draft.CreatedAt)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "Title", "Identifier", "Label"})
				for _, r := range resources {
					action := ""
					if r.Action != nil {
						action = string(*r.Action)
					}
					label := ""
					if r.VersionLabel != nil {
						label = *r.VersionLabel
					}
					tw.AppendRow(table.Row{r.ID, action, r.Title, r.Identifier, label})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func draftValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				result, err := e.ValidateDraft(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				if result.Valid {
					fmt.Println("Draft is valid.")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Resource", "Title", "Error"})
				for _, ve := range result.Errors {
					tw.AppendRow(table.Row{ve.ResourceID, ve.Title, ve.Message})
				}
				tw.Render()
				return fmt.Errorf("draft has %d validation errors", len(result.Errors))
			})
		},
	}
	return cmd
}

func resourceCmd() *cobra.Command {
	res := &cobra.Command{Use: "resource", Short: "Manage draft resources"}
	res.AddCommand(resourceAddCmd())
	res.AddCommand(resourceListCmd())
	res.AddCommand(resourceUpdateCmd())
	res.AddCommand(resourceDeleteCmd())
	res.AddCommand(resourceRestoreCmd())
	res.AddCommand(resourceNewVersionCmd())
	return res
}

func resourceAddCmd() *cobra.Command {
	var title, desc, identifier, identifierType, resourceType, label string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a resource to the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				r, err := e.CreateResource(ctx, engine.ResourceCreateOptions{
					CollectionID:   c.ID,
					Title:          title,
					Description:    desc,
					Identifier:     identifier,
					IdentifierType: identifierType,
					ResourceType:   resourceType,
					VersionLabel:   label,
					UserID:         viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "resource title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&identifier, "identifier", "", "identifier value (DOI, URL, handle)")
	cmd.Flags().StringVar(&identifierType, "identifier-type", "", "identifier type")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "resource type")
	cmd.Flags().StringVar(&label, "version-label", "", "version label")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func resourceListCmd() *cobra.Command {
	var sources bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List draft resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				var items []domain.Resource
				var err error
				if sources {
					items, err = e.SourceResources(ctx, c.ID)
				} else {
					var draft domain.Version
					draft, err = e.Repo.DraftVersion(ctx, c.ID)
					if err == nil {
						items, err = e.Repo.ListResourcesByVersion(ctx, draft.ID)
					}
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&sources, "sources", false, "only resources eligible as relation sources")
	return cmd
}

func resourceUpdateCmd() *cobra.Command {
	var id, title, desc, identifier, identifierType, resourceType, label string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a draft resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				opts := engine.ResourceUpdateOptions{
					CollectionID: c.ID,
					ResourceID:   id,
					UserID:       viper.GetString("user-id"),
				}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				if cmd.Flags().Changed("identifier") {
					opts.Identifier = &identifier
				}
				if cmd.Flags().Changed("identifier-type") {
					opts.IdentifierType = &identifierType
				}
				if cmd.Flags().Changed("resource-type") {
					opts.ResourceType = &resourceType
				}
				if cmd.Flags().Changed("version-label") {
					opts.VersionLabel = &label
				}
				r, err := e.UpdateResource(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "resource id")
	cmd.Flags().StringVar(&title, "title", "", "resource title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&identifier, "identifier", "", "identifier value")
	cmd.Flags().StringVar(&identifierType, "identifier-type", "", "identifier type")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "resource type")
	cmd.Flags().StringVar(&label, "version-label", "", "version label")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func resourceDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a draft resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				return e.DeleteResource(ctx, c.ID, id, viper.GetString("user-id"))
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "resource id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func resourceRestoreCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a deleted draft resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				r, err := e.RestoreResource(ctx, c.ID, id, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "resource id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func resourceNewVersionCmd() *cobra.Command {
	var id, identifier, identifierType, label string
	var cloneRelations bool
	cmd := &cobra.Command{
		Use:   "new-version",
		Short: "Supersede a resource with a new edition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				r, err := e.NewResourceVersion(ctx, engine.ResourceVersionOptions{
					CollectionID:   c.ID,
					ResourceID:     id,
					Identifier:     identifier,
					IdentifierType: identifierType,
					VersionLabel:   label,
					CloneRelations: cloneRelations,
					UserID:         viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "resource id to supersede")
	cmd.Flags().StringVar(&identifier, "identifier", "", "identifier for the new edition")
	cmd.Flags().StringVar(&identifierType, "identifier-type", "", "identifier type")
	cmd.Flags().StringVar(&label, "version-label", "", "version label for the new edition")
	cmd.Flags().BoolVar(&cloneRelations, "clone-relations", false, "copy the predecessor's relations")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func relationCmd() *cobra.Command {
	rel := &cobra.Command{Use: "relation", Short: "Manage draft relations"}
	rel.AddCommand(relationAddCmd())
	rel.AddCommand(relationListCmd())
	rel.AddCommand(relationUpdateCmd())
	rel.AddCommand(relationDeleteCmd())
	rel.AddCommand(relationRestoreCmd())
	return rel
}

func relationAddCmd() *cobra.Command {
	var source, target, relType, resourceType, targetType string
	var external bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a relation to the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				userID := viper.GetString("user-id")
				if external {
					r, err := e.CreateExternalRelation(ctx, engine.ExternalRelationCreateOptions{
						CollectionID: c.ID,
						SourceID:     source,
						Target:       target,
						TargetType:   targetType,
						Type:         relType,
						ResourceType: resourceType,
						UserID:       userID,
					})
					if err != nil {
						return err
					}
					return printJSONOrTable(r)
				}
				r, err := e.CreateInternalRelation(ctx, engine.InternalRelationCreateOptions{
					CollectionID: c.ID,
					SourceID:     source,
					TargetID:     target,
					Type:         relType,
					ResourceType: resourceType,
					UserID:       userID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source resource id")
	cmd.Flags().StringVar(&target, "target", "", "target resource id, or external identifier with --external")
	cmd.Flags().StringVar(&relType, "type", "", "relation type")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "related resource type")
	cmd.Flags().StringVar(&targetType, "target-type", "", "external target identifier type")
	cmd.Flags().BoolVar(&external, "external", false, "target is outside the collection")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func relationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List draft relations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				draft, err := e.Repo.DraftVersion(ctx, c.ID)
				if err != nil {
					return err
				}
				internals, err := e.Repo.ListInternalRelationsByVersion(ctx, draft.ID)
				if err != nil {
					return err
				}
				externals, err := e.Repo.ListExternalRelationsByVersion(ctx, draft.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"internal": internals, "external": externals})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Action", "Source", "Type", "Target"})
				for _, r := range internals {
					action := ""
					if r.Action != nil {
						action = string(*r.Action)
					}
					tw.AppendRow(table.Row{r.ID, "internal", action, r.SourceID, r.Type, r.TargetID})
				}
				for _, r := range externals {
					action := ""
					if r.Action != nil {
						action = string(*r.Action)
					}
					tw.AppendRow(table.Row{r.ID, "external", action, r.SourceID, r.Type, r.Target})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func relationUpdateCmd() *cobra.Command {
	var id, target, relType, resourceType, targetType string
	var external bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a draft relation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				userID := viper.GetString("user-id")
				if external {
					opts := engine.ExternalRelationUpdateOptions{
						CollectionID: c.ID,
						RelationID:   id,
						UserID:       userID,
					}
					if cmd.Flags().Changed("target") {
						opts.Target = &target
					}
					if cmd.Flags().Changed("target-type") {
						opts.TargetType = &targetType
					}
					if cmd.Flags().Changed("type") {
						opts.Type = &relType
					}
					if cmd.Flags().Changed("resource-type") {
						opts.ResourceType = &resourceType
					}
					r, err := e.UpdateExternalRelation(ctx, opts)
					if err != nil {
						return err
					}
					return printJSONOrTable(r)
				}
				opts := engine.InternalRelationUpdateOptions{
					CollectionID: c.ID,
					RelationID:   id,
					UserID:       userID,
				}
				if cmd.Flags().Changed("target") {
					opts.TargetID = &target
				}
				if cmd.Flags().Changed("type") {
					opts.Type = &relType
				}
				if cmd.Flags().Changed("resource-type") {
					opts.ResourceType = &resourceType
				}
				r, err := e.UpdateInternalRelation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "relation id")
	cmd.Flags().StringVar(&target, "target", "", "new target")
	cmd.Flags().StringVar(&relType, "type", "", "relation type")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "related resource type")
	cmd.Flags().StringVar(&targetType, "target-type", "", "external target identifier type")
	cmd.Flags().BoolVar(&external, "external", false, "relation is external")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func relationDeleteCmd() *cobra.Command {
	var id string
	var external bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a draft relation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				userID := viper.GetString("user-id")
				if external {
					return e.DeleteExternalRelation(ctx, c.ID, id, userID)
				}
				return e.DeleteInternalRelation(ctx, c.ID, id, userID)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "relation id")
	cmd.Flags().BoolVar(&external, "external", false, "relation is external")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func relationRestoreCmd() *cobra.Command {
	var id string
	var external bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a deleted draft relation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				userID := viper.GetString("user-id")
				if external {
					r, err := e.RestoreExternalRelation(ctx, c.ID, id, userID)
					if err != nil {
						return err
					}
					return printJSONOrTable(r)
				}
				r, err := e.RestoreInternalRelation(ctx, c.ID, id, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "relation id")
	cmd.Flags().BoolVar(&external, "external", false, "relation is external")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func versionCmd() *cobra.Command {
	ver := &cobra.Command{Use: "version", Short: "Inspect versions"}
	ver.AddCommand(versionListCmd())
	ver.AddCommand(versionShowCmd())
	return ver
}

func versionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List versions of a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				items, err := e.Repo.ListVersions(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Published", "Published On"})
				for _, v := range items {
					publishedOn := ""
					if v.PublishedOn != nil {
						publishedOn = *v.PublishedOn
					}
					tw.AppendRow(table.Row{v.ID, v.Name, v.Published, publishedOn})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func versionShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a version's resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				v, err := e.Repo.GetVersion(ctx, id)
				if err != nil {
					return err
				}
				if v.CollectionID != c.ID {
					return fmt.Errorf("version %s not found in collection %s", id, c.ID)
				}
				resources, err := e.Repo.ListResourcesByVersion(ctx, v.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"version": v, "resources": resources})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "version id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func publishCmd() *cobra.Command {
	var changelog string
	var creators []string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				opts := engine.PublishOptions{
					CollectionID: c.ID,
					Changelog:    changelog,
					UserID:       viper.GetString("user-id"),
				}
				for _, name := range creators {
					opts.Creators = append(opts.Creators, domain.Creator{CreatorName: name})
				}
				v, err := e.Publish(ctx, opts)
				var ve engine.ValidationFailedError
				if errors.As(err, &ve) {
					for _, item := range ve.Result.Errors {
						fmt.Printf("  %s: %s\n", item.Title, item.Message)
					}
					return err
				}
				if err != nil {
					return err
				}
				fmt.Printf("Published %s\n", v.Name)
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&changelog, "changelog", "", "changelog entry")
	cmd.Flags().StringArrayVar(&creators, "creator", []string{}, "creator name (repeatable)")
	return cmd
}

func accessCmd() *cobra.Command {
	acc := &cobra.Command{Use: "access", Short: "Manage collection access"}
	acc.AddCommand(accessGrantCmd())
	acc.AddCommand(accessRevokeCmd())
	acc.AddCommand(accessListCmd())
	return acc
}

func accessGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role on a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				if e.Config.RoleRank(role) == 0 {
					return fmt.Errorf("unknown role %q", role)
				}
				grant, err := e.GrantAccess(ctx, c.ID, target, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(grant)
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "role (viewer, editor, admin, owner)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func accessRevokeCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a user's access",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				return e.RevokeAccess(ctx, c.ID, target)
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func accessListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List access grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd.Context(), func(ctx context.Context, e engine.Engine, c domain.Collection) error {
				items, err := e.Repo.ListCollectionAccess(ctx, c.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := "ck_" + strings.ReplaceAll(uuid.New().String(), "-", "")
				now := time.Now().UTC().Format(time.RFC3339)
				userID := viper.GetString("user-id")
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.EnsureUser(ctx, tx, userID, now); err != nil {
					return err
				}
				if err := e.Repo.InsertAPIKey(ctx, tx, domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: now,
				}); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key (save it, it is not stored): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "key id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				collectionID := ""
				if ref := viper.GetString("collection"); ref != "" {
					c, err := app.ResolveCollection(ctx, e.Repo, ref)
					if err != nil {
						return err
					}
					collectionID = c.ID
				}
				events, err := e.Repo.LatestEvents(ctx, n, collectionID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, cfg, err := app.Setup(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("CATENA_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CATENA_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Catena API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, cfg, err := app.Setup(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, cfg))
}

func withCollection(ctx context.Context, fn func(context.Context, engine.Engine, domain.Collection) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		c, err := app.ResolveCollection(ctx, e.Repo, viper.GetString("collection"))
		if err != nil {
			return err
		}
		return fn(ctx, e, c)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

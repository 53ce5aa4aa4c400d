package wire

import "google.golang.org/protobuf/encoding/protowire"

// GeoSpaceCreated, plugin-created, membership, subspace, and proposal
// events mirror the substream module's on-chain event schema (GeoOutput).
// Field numbers below are assigned by position matching the order events
// are documented in the block-processing design; they are internal to this
// module only, never serialized elsewhere.
type GeoSpaceCreated struct {
	DAOAddress   string
	SpaceAddress string
}

type GeoGovernancePluginCreated struct {
	DAOAddress          string
	MainVotingAddress   string
	MemberAccessAddress string
}

type GeoPersonalSpaceAdminPluginCreated struct {
	DAOAddress           string
	PersonalAdminAddress string
}

type EditorAdded struct {
	DAOAddress              string
	EditorAddress           string
	MainVotingPluginAddress string
	ChangeType              string
}

type EditorRemoved struct {
	DAOAddress    string
	EditorAddress string
	PluginAddress string
	ChangeType    string
}

type MemberAdded struct {
	DAOAddress              string
	MemberAddress           string
	MainVotingPluginAddress string
	ChangeType              string
}

type MemberRemoved struct {
	DAOAddress    string
	MemberAddress string
	PluginAddress string
	ChangeType    string
}

type SubspaceAdded struct {
	DAOAddress    string
	Subspace      string
	PluginAddress string
	ChangeType    string
}

type SubspaceRemoved struct {
	DAOAddress    string
	Subspace      string
	PluginAddress string
	ChangeType    string
}

// EditPublished is the content-bearing event: a space published a new edit.
type EditPublished struct {
	DAOAddress    string
	ContentURI    string
	PluginAddress string
}

// PublishEditProposalCreated is a PublishEdit governance proposal; it also
// carries a content URI that must be resolved through the cache.
type PublishEditProposalCreated struct {
	ProposalID    string
	Creator       string
	StartTime     string
	EndTime       string
	ContentURI    string
	DAOAddress    string
	PluginAddress string
}

// ProposalExecuted signals that an on-chain vote completed execution.
type ProposalExecuted struct {
	ProposalID    string
	PluginAddress string
	DAOAddress    string
}

// GovernanceProposalEvent covers AddMember/RemoveMember/AddEditor/
// RemoveEditor/AddSubspace/RemoveSubspace proposals; the differing target
// (member, editor, or subspace address) is carried in Target.
type GovernanceProposalEvent struct {
	ProposalID    string
	Creator       string
	StartTime     string
	EndTime       string
	Target        string
	DAOAddress    string
	PluginAddress string
	ChangeType    string
}

// GeoOutput is the decoded form of the substream module's per-block output:
// every on-chain event kind this pipeline cares about, bucketed by type.
type GeoOutput struct {
	SpacesCreated            []GeoSpaceCreated
	GovernancePluginsCreated []GeoGovernancePluginCreated
	PersonalPluginsCreated   []GeoPersonalSpaceAdminPluginCreated
	EditorsAdded             []EditorAdded
	EditorsRemoved           []EditorRemoved
	MembersAdded             []MemberAdded
	MembersRemoved           []MemberRemoved
	SubspacesAdded           []SubspaceAdded
	SubspacesRemoved         []SubspaceRemoved
	EditsPublished           []EditPublished
	Edits                    []PublishEditProposalCreated
	ExecutedProposals        []ProposalExecuted
	ProposedAddedMembers     []GovernanceProposalEvent
	ProposedRemovedMembers   []GovernanceProposalEvent
	ProposedAddedEditors     []GovernanceProposalEvent
	ProposedRemovedEditors   []GovernanceProposalEvent
	ProposedAddedSubspaces   []GovernanceProposalEvent
	ProposedRemovedSubspaces []GovernanceProposalEvent
}

const (
	fieldGeoSpacesCreated            = 1
	fieldGeoGovernancePlugins        = 2
	fieldGeoPersonalPlugins          = 3
	fieldGeoEditorsAdded             = 4
	fieldGeoEditorsRemoved           = 5
	fieldGeoMembersAdded             = 6
	fieldGeoMembersRemoved           = 7
	fieldGeoSubspacesAdded           = 8
	fieldGeoSubspacesRemoved         = 9
	fieldGeoEditsPublished           = 10
	fieldGeoEdits                    = 11
	fieldGeoExecutedProposals        = 12
	fieldGeoProposedAddedMembers     = 13
	fieldGeoProposedRemovedMembers   = 14
	fieldGeoProposedAddedEditors     = 15
	fieldGeoProposedRemovedEditors   = 16
	fieldGeoProposedAddedSubspaces   = 17
	fieldGeoProposedRemovedSubspaces = 18
)

// DecodeGeoOutput parses the per-block substream module output. Unknown
// fields are skipped so that future event kinds don't break older readers.
func DecodeGeoOutput(buf []byte) (*GeoOutput, error) {
	out := &GeoOutput{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		raw, m, err := consumeBytes(buf, typ)
		if err != nil {
			return nil, err
		}
		buf = buf[m:]

		switch num {
		case fieldGeoSpacesCreated:
			v, err := decodeGeoSpaceCreated(raw)
			if err != nil {
				return nil, err
			}
			out.SpacesCreated = append(out.SpacesCreated, *v)
		case fieldGeoGovernancePlugins:
			v, err := decodeGovernancePluginCreated(raw)
			if err != nil {
				return nil, err
			}
			out.GovernancePluginsCreated = append(out.GovernancePluginsCreated, *v)
		case fieldGeoPersonalPlugins:
			v, err := decodePersonalPluginCreated(raw)
			if err != nil {
				return nil, err
			}
			out.PersonalPluginsCreated = append(out.PersonalPluginsCreated, *v)
		case fieldGeoEditorsAdded:
			v, err := decodeEditorAdded(raw)
			if err != nil {
				return nil, err
			}
			out.EditorsAdded = append(out.EditorsAdded, *v)
		case fieldGeoEditorsRemoved:
			v, err := decodeEditorRemoved(raw)
			if err != nil {
				return nil, err
			}
			out.EditorsRemoved = append(out.EditorsRemoved, *v)
		case fieldGeoMembersAdded:
			v, err := decodeMemberAdded(raw)
			if err != nil {
				return nil, err
			}
			out.MembersAdded = append(out.MembersAdded, *v)
		case fieldGeoMembersRemoved:
			v, err := decodeMemberRemoved(raw)
			if err != nil {
				return nil, err
			}
			out.MembersRemoved = append(out.MembersRemoved, *v)
		case fieldGeoSubspacesAdded:
			v, err := decodeSubspaceAdded(raw)
			if err != nil {
				return nil, err
			}
			out.SubspacesAdded = append(out.SubspacesAdded, *v)
		case fieldGeoSubspacesRemoved:
			v, err := decodeSubspaceRemoved(raw)
			if err != nil {
				return nil, err
			}
			out.SubspacesRemoved = append(out.SubspacesRemoved, *v)
		case fieldGeoEditsPublished:
			v, err := decodeEditPublished(raw)
			if err != nil {
				return nil, err
			}
			out.EditsPublished = append(out.EditsPublished, *v)
		case fieldGeoEdits:
			v, err := decodePublishEditProposalCreated(raw)
			if err != nil {
				return nil, err
			}
			out.Edits = append(out.Edits, *v)
		case fieldGeoExecutedProposals:
			v, err := decodeProposalExecuted(raw)
			if err != nil {
				return nil, err
			}
			out.ExecutedProposals = append(out.ExecutedProposals, *v)
		case fieldGeoProposedAddedMembers:
			v, err := decodeGovernanceProposalEvent(raw)
			if err != nil {
				return nil, err
			}
			out.ProposedAddedMembers = append(out.ProposedAddedMembers, *v)
		case fieldGeoProposedRemovedMembers:
			v, err := decodeGovernanceProposalEvent(raw)
			if err != nil {
				return nil, err
			}
			out.ProposedRemovedMembers = append(out.ProposedRemovedMembers, *v)
		case fieldGeoProposedAddedEditors:
			v, err := decodeGovernanceProposalEvent(raw)
			if err != nil {
				return nil, err
			}
			out.ProposedAddedEditors = append(out.ProposedAddedEditors, *v)
		case fieldGeoProposedRemovedEditors:
			v, err := decodeGovernanceProposalEvent(raw)
			if err != nil {
				return nil, err
			}
			out.ProposedRemovedEditors = append(out.ProposedRemovedEditors, *v)
		case fieldGeoProposedAddedSubspaces:
			v, err := decodeGovernanceProposalEvent(raw)
			if err != nil {
				return nil, err
			}
			out.ProposedAddedSubspaces = append(out.ProposedAddedSubspaces, *v)
		case fieldGeoProposedRemovedSubspaces:
			v, err := decodeGovernanceProposalEvent(raw)
			if err != nil {
				return nil, err
			}
			out.ProposedRemovedSubspaces = append(out.ProposedRemovedSubspaces, *v)
		}
	}

	return out, nil
}

// Each event message below is a flat string/bytes record; field numbers are
// assigned 1..N in declaration order of the corresponding Go struct.

func decodeGeoSpaceCreated(buf []byte) (*GeoSpaceCreated, error) {
	v := &GeoSpaceCreated{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.SpaceAddress)
}

func decodeGovernancePluginCreated(buf []byte) (*GeoGovernancePluginCreated, error) {
	v := &GeoGovernancePluginCreated{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.MainVotingAddress, &v.MemberAccessAddress)
}

func decodePersonalPluginCreated(buf []byte) (*GeoPersonalSpaceAdminPluginCreated, error) {
	v := &GeoPersonalSpaceAdminPluginCreated{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.PersonalAdminAddress)
}

func decodeEditorAdded(buf []byte) (*EditorAdded, error) {
	v := &EditorAdded{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.EditorAddress, &v.MainVotingPluginAddress, &v.ChangeType)
}

func decodeEditorRemoved(buf []byte) (*EditorRemoved, error) {
	v := &EditorRemoved{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.EditorAddress, &v.PluginAddress, &v.ChangeType)
}

func decodeMemberAdded(buf []byte) (*MemberAdded, error) {
	v := &MemberAdded{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.MemberAddress, &v.MainVotingPluginAddress, &v.ChangeType)
}

func decodeMemberRemoved(buf []byte) (*MemberRemoved, error) {
	v := &MemberRemoved{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.MemberAddress, &v.PluginAddress, &v.ChangeType)
}

func decodeSubspaceAdded(buf []byte) (*SubspaceAdded, error) {
	v := &SubspaceAdded{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.Subspace, &v.PluginAddress, &v.ChangeType)
}

func decodeSubspaceRemoved(buf []byte) (*SubspaceRemoved, error) {
	v := &SubspaceRemoved{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.Subspace, &v.PluginAddress, &v.ChangeType)
}

func decodeEditPublished(buf []byte) (*EditPublished, error) {
	v := &EditPublished{}
	return v, decodeStrings(buf, &v.DAOAddress, &v.ContentURI, &v.PluginAddress)
}

func decodePublishEditProposalCreated(buf []byte) (*PublishEditProposalCreated, error) {
	v := &PublishEditProposalCreated{}
	return v, decodeStrings(buf, &v.ProposalID, &v.Creator, &v.StartTime, &v.EndTime, &v.ContentURI, &v.DAOAddress, &v.PluginAddress)
}

func decodeProposalExecuted(buf []byte) (*ProposalExecuted, error) {
	v := &ProposalExecuted{}
	return v, decodeStrings(buf, &v.ProposalID, &v.PluginAddress, &v.DAOAddress)
}

func decodeGovernanceProposalEvent(buf []byte) (*GovernanceProposalEvent, error) {
	v := &GovernanceProposalEvent{}
	return v, decodeStrings(buf, &v.ProposalID, &v.Creator, &v.StartTime, &v.EndTime, &v.Target, &v.DAOAddress, &v.PluginAddress, &v.ChangeType)
}

// decodeStrings reads a flat message whose fields are all strings, numbered
// 1..len(dst) in order; unknown field numbers (including gaps) are skipped.
func decodeStrings(buf []byte, dst ...*string) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		s, m, err := consumeString(buf, typ)
		if err != nil {
			return err
		}
		buf = buf[m:]

		if int(num) >= 1 && int(num) <= len(dst) {
			*dst[num-1] = s
		}
	}
	return nil
}

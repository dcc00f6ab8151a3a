package servicemap

import "fmt"

// ServiceMap is built once from a ServiceProto (spec.md §4.1). Lookups by
// name and by ID are O(1) maps, matching invariant (c) of spec.md §3.
type ServiceMap struct {
	byName map[string]*Service
	byID   map[uint32]*Service

	// LocalAPI / RemoteAPI partition API services by which side implements
	// them, per invariant (b) of spec.md §3.
	LocalAPI  map[string]*Service
	RemoteAPI map[string]*Service

	// LocalMsg / RemoteMsg do the same for message services, since a
	// connection both sends and listens for messages depending on side.
	LocalMsg  map[string]*Service
	RemoteMsg map[string]*Service
}

// Build constructs a ServiceMap for the given side ("server" or "client"),
// deriving schema IDs and partitioning services as spec.md §4.1 specifies.
// It fails on duplicate IDs, and on a service whose Kind is neither
// KindAPI nor KindMsg.
func Build(proto ServiceProto, side Side) (*ServiceMap, error) {
	sm := &ServiceMap{
		byName:    make(map[string]*Service, len(proto.Services)),
		byID:      make(map[uint32]*Service, len(proto.Services)),
		LocalAPI:  make(map[string]*Service),
		RemoteAPI: make(map[string]*Service),
		LocalMsg:  make(map[string]*Service),
		RemoteMsg: make(map[string]*Service),
	}

	for i := range proto.Services {
		svc := proto.Services[i]
		if _, dup := sm.byID[svc.ID]; dup {
			return nil, fmt.Errorf("servicemap: duplicate service id %d (name %q)", svc.ID, svc.Name)
		}

		switch svc.Kind {
		case KindAPI:
			if svc.ReqSchemaID == "" {
				svc.ReqSchemaID = reqSchemaID(svc.Name)
			}
			if svc.ResSchemaID == "" {
				svc.ResSchemaID = resSchemaID(svc.Name)
			}
		case KindMsg:
			if svc.MsgSchemaID == "" {
				svc.MsgSchemaID = msgSchemaID(svc.Name)
			}
		default:
			return nil, fmt.Errorf("servicemap: service %q has unknown kind %q", svc.Name, svc.Kind)
		}

		stored := svc
		sm.byName[stored.Name] = &stored
		sm.byID[stored.ID] = &stored

		if stored.Kind == KindAPI {
			// Invariant (b): a service is local iff side matches or is "both".
			if stored.Side == side || stored.Side == SideBoth {
				sm.LocalAPI[stored.Name] = &stored
			}
			if stored.Side != side || stored.Side == SideBoth {
				sm.RemoteAPI[stored.Name] = &stored
			}
		} else {
			if stored.Side == side || stored.Side == SideBoth {
				sm.LocalMsg[stored.Name] = &stored
			}
			if stored.Side != side || stored.Side == SideBoth {
				sm.RemoteMsg[stored.Name] = &stored
			}
		}
	}

	return sm, nil
}

func (sm *ServiceMap) GetByName(name string) (*Service, bool) {
	svc, ok := sm.byName[name]
	return svc, ok
}

func (sm *ServiceMap) GetByID(id uint32) (*Service, bool) {
	svc, ok := sm.byID[id]
	return svc, ok
}
